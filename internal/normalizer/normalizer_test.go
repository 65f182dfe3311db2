package normalizer

import (
	"testing"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	n := New("https://auction.example.com/")
	n.Now = func() time.Time { return testNow }
	return n
}

func rawChair() *models.RawItem {
	return &models.RawItem{
		ID:           "98231",
		AuctionID:    "A-77",
		LotCode:      "FL-98231",
		Title:        "  Office Chair ",
		MSRP:         "$129.99",
		CurrentBid:   "8.50",
		EndDate:      models.FlexText(testNow.Add(48 * time.Hour).Format(time.RFC3339)),
		LocationName: "florence — industrial road",
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	rec, err := newTestNormalizer().Normalize(rawChair())
	require.NoError(t, err)

	assert.Equal(t, "98231", rec.ItemID)
	assert.Equal(t, "Florence - Industrial Road", rec.LocationName)
	assert.Equal(t, "Office Chair", *rec.Title)
	assert.Nil(t, rec.Description)
	require.NotNil(t, rec.MSRP)
	assert.Equal(t, 129.99, *rec.MSRP)
	require.NotNil(t, rec.CurrentBid)
	assert.Equal(t, 8.5, *rec.CurrentBid)
	assert.Equal(t, types.StatusActive, rec.Status)
	assert.Equal(t, "https://auction.example.com/A-77/item-detail/98231", rec.SourceURL)
	assert.Equal(t, testNow, rec.FetchedAt)
	assert.Len(t, rec.DomHash, DomHashLength)
	assert.Equal(t, "$129.99", rec.MSRPText)
	assert.Equal(t, "florence — industrial road", rec.LocationText)
	assert.Equal(t, "FL-98231", rec.ItemIDText)
}

func TestNormalize_Failures(t *testing.T) {
	n := newTestNormalizer()

	raw := rawChair()
	raw.ID = " "
	_, err := n.Normalize(raw)
	assert.True(t, errors.IsMalformed(err))

	raw = rawChair()
	raw.AuctionID = ""
	_, err = n.Normalize(raw)
	assert.True(t, errors.IsMalformed(err))

	raw = rawChair()
	raw.LocationName = "Florence Industrial"
	_, err = n.Normalize(raw)
	assert.True(t, errors.IsUnknownLocation(err), "near misses are rejected, not guessed")

	raw = rawChair()
	raw.LocationName = ""
	raw.LocationID = "999"
	_, err = n.Normalize(raw)
	assert.True(t, errors.IsUnknownLocation(err))

	_, err = n.Normalize(nil)
	assert.True(t, errors.IsMalformed(err))
}

func TestNormalize_LocationFromUpstreamID(t *testing.T) {
	raw := rawChair()
	raw.LocationName = ""
	raw.LocationID = "601"

	rec, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Dayton - Edwin C Moses Blvd", rec.LocationName)
}

func TestNormalize_MissingOptionalFields(t *testing.T) {
	raw := &models.RawItem{ID: "1", AuctionID: "A", LocationName: "Dayton - Edwin C Moses Blvd", CurrentBid: "unknown"}

	rec, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Nil(t, rec.Title)
	assert.Nil(t, rec.CurrentBid, "unparseable bids stay unknown")
	assert.Nil(t, rec.MSRP)
	assert.Nil(t, rec.EndDate)
	assert.Equal(t, types.StatusUnknown, rec.Status)
	assert.Equal(t, "unknown", rec.CurrentBidText)
}

func TestDeriveStatus(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name    string
		closed  bool
		endDate *time.Time
		want    types.ItemStatus
	}{
		{name: "closed wins", closed: true, endDate: &future, want: types.StatusEnded},
		{name: "future end", endDate: &future, want: types.StatusActive},
		{name: "past end is not ended", endDate: &past, want: types.StatusUnknown},
		{name: "no end date", want: types.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.closed, tt.endDate, testNow))
		})
	}
}

func TestParseEndDate(t *testing.T) {
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want *time.Time
	}{
		{in: "2026-01-01T00:00:00Z", want: &want},
		{in: "2025-12-31T19:00:00-05:00", want: &want},
		{in: "2026-01-01 00:00:00", want: &want},
		{in: "1767225600", want: &want},
		{in: "1767225600000", want: &want},
		{in: "", want: nil},
		{in: "0", want: nil},
		{in: "soon", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseEndDate(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{in: "$1,234.50", want: models.Float64Ptr(1234.5)},
		{in: "8.5", want: models.Float64Ptr(8.5)},
		{in: "0", want: models.Float64Ptr(0)},
		{in: " 15 USD ", want: models.Float64Ptr(15)},
		{in: "-1", want: nil},
		{in: "unknown", want: nil},
		{in: "", want: nil},
		{in: "1.2.3", want: nil},
		{in: "1e400", want: nil},
		{in: "$9e999", want: nil},
		{in: "1E309", want: nil},
		{in: "2e3", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrice(tt.in))
		})
	}
}

func TestHashDom_IgnoresVolatileFields(t *testing.T) {
	n := newTestNormalizer()
	a, err := n.Normalize(rawChair())
	require.NoError(t, err)

	raw := rawChair()
	raw.CurrentBid = "99"
	raw.Title = "Renamed"
	b, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, a.DomHash, b.DomHash)

	raw = rawChair()
	raw.EndDate = models.FlexText(testNow.Add(72 * time.Hour).Format(time.RFC3339))
	c, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.NotEqual(t, a.DomHash, c.DomHash)
}

func TestClassify(t *testing.T) {
	n := newTestNormalizer()
	stored, err := n.Normalize(rawChair())
	require.NoError(t, err)

	assert.Equal(t, types.ChangeNew, Classify(nil, stored))

	same, _ := n.Normalize(rawChair())
	assert.Equal(t, types.ChangeUnchanged, Classify(stored, same))

	raw := rawChair()
	raw.CurrentBid = "7"
	cheaper, _ := n.Normalize(raw)
	assert.Equal(t, types.ChangeChanged, Classify(stored, cheaper))

	raw = rawChair()
	raw.CurrentBid = ""
	unknownBid, _ := n.Normalize(raw)
	assert.Equal(t, types.ChangeChanged, Classify(stored, unknownBid))
}
