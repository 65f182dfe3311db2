package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	florence = "Florence - Industrial Road"
	dayton   = "Dayton - Edwin C Moses Blvd"
)

func testItem(id, location, title string, bid *float64, end *time.Time, status types.ItemStatus) *models.ItemRecord {
	return &models.ItemRecord{
		ItemID:       id,
		LocationName: location,
		AuctionID:    models.StringPtr("A-1"),
		Title:        models.StringPtr(title),
		CurrentBid:   bid,
		EndDate:      end,
		Status:       status,
		SourceURL:    fmt.Sprintf("https://auction.example.com/A-1/item-detail/%s", id),
		FetchedAt:    time.Now().UTC().Truncate(time.Microsecond),
		DomHash:      "abcdef012345",
	}
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC().Truncate(time.Microsecond)
	return &t
}

// runStoreContract exercises the Store behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("upsert is idempotent and keyed", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		rec := testItem("1", florence, "Office Chair", models.Float64Ptr(8.5), timePtr(time.Now().Add(time.Hour)), types.StatusActive)

		require.NoError(t, s.UpsertItem(ctx, rec))
		require.NoError(t, s.UpsertItem(ctx, rec))

		got, err := s.GetItem(ctx, "1", florence)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Office Chair", *got.Title)
		assert.Equal(t, 8.5, *got.CurrentBid)

		counts, err := s.CountItems(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[types.StatusActive])
	})

	t.Run("same item in two locations is two rows", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		end := timePtr(time.Now().Add(time.Hour))
		require.NoError(t, s.UpsertItem(ctx, testItem("1", florence, "Desk", nil, end, types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("1", dayton, "Desk", nil, end, types.StatusActive)))

		active, err := s.GetActiveItems(ctx, "")
		require.NoError(t, err)
		assert.Len(t, active, 2)

		onlyDayton, err := s.GetActiveItems(ctx, dayton)
		require.NoError(t, err)
		require.Len(t, onlyDayton, 1)
		assert.Equal(t, dayton, onlyDayton[0].LocationName)
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		end := timePtr(time.Now().Add(time.Hour))
		require.NoError(t, s.UpsertItem(ctx, testItem("1", florence, "Lamp", models.Float64Ptr(20), end, types.StatusActive)))

		update := testItem("1", florence, "Lamp", nil, nil, types.StatusUnknown)
		update.Title = nil
		require.NoError(t, s.UpsertItem(ctx, update))

		got, err := s.GetItem(ctx, "1", florence)
		require.NoError(t, err)
		assert.Nil(t, got.Title)
		assert.Nil(t, got.CurrentBid)
		assert.Nil(t, got.EndDate)
		assert.Equal(t, types.StatusUnknown, got.Status)
	})

	t.Run("empty status is stored as unknown", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		rec := testItem("1", florence, "Lamp", nil, nil, "")
		require.NoError(t, s.UpsertItem(ctx, rec))
		assert.Empty(t, rec.Status)

		got, err := s.GetItem(ctx, "1", florence)
		require.NoError(t, err)
		assert.Equal(t, types.StatusUnknown, got.Status)
	})

	t.Run("malformed records are rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		bad := testItem("", florence, "x", nil, nil, types.StatusActive)
		assert.True(t, errors.IsMalformed(s.UpsertItem(ctx, bad)))

		bad = testItem("1", florence, "x", nil, nil, types.StatusActive)
		bad.SourceURL = ""
		assert.True(t, errors.IsMalformed(s.UpsertItem(ctx, bad)))

		got, err := s.GetItem(ctx, "1", florence)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("search filters and orders", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		end := timePtr(time.Now().Add(time.Hour))
		require.NoError(t, s.UpsertItem(ctx, testItem("1", florence, "Office Chair", models.Float64Ptr(8.5), end, types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("2", florence, "Gaming CHAIR", models.Float64Ptr(15), end, types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("3", dayton, "Chair cushion", nil, end, types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("4", florence, "Ended chair", models.Float64Ptr(1), end, types.StatusEnded)))
		require.NoError(t, s.UpsertItem(ctx, testItem("5", florence, "Table", models.Float64Ptr(50), end, types.StatusActive)))

		res, err := s.SearchItems(ctx, SearchFilter{Query: "chair"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		require.Len(t, res.Items, 3)
		assert.Equal(t, []string{"2", "1", "3"}, []string{res.Items[0].ItemID, res.Items[1].ItemID, res.Items[2].ItemID})

		res, err = s.SearchItems(ctx, SearchFilter{Query: "chair", Location: florence, MaxBid: models.Float64Ptr(10)})
		require.NoError(t, err)
		require.Equal(t, 1, res.Total)
		assert.Equal(t, "1", res.Items[0].ItemID)

		res, err = s.SearchItems(ctx, SearchFilter{MinBid: models.Float64Ptr(10)})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)

		res, err = s.SearchItems(ctx, SearchFilter{Query: "chair", Page: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		require.Len(t, res.Items, 1)
		assert.Equal(t, "3", res.Items[0].ItemID)

		res, err = s.SearchItems(ctx, SearchFilter{Query: "100%"})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Total, "wildcards in the query are literal")
	})

	t.Run("status transitions", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		require.NoError(t, s.UpsertItem(ctx, testItem("1", florence, "Desk", nil, nil, types.StatusUnknown)))
		require.NoError(t, s.UpdateItemStatus(ctx, "1", florence, types.StatusActive))

		got, err := s.GetItem(ctx, "1", florence)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)

		assert.True(t, errors.IsNotFound(s.UpdateItemStatus(ctx, "missing", florence, types.StatusActive)))
		assert.True(t, errors.IsMalformed(s.UpdateItemStatus(ctx, "1", florence, "bogus")))
	})

	t.Run("ending soon", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		require.NoError(t, s.UpsertItem(ctx, testItem("soon", florence, "a", nil, timePtr(time.Now().Add(30*time.Minute)), types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("later", florence, "b", nil, timePtr(time.Now().Add(5*time.Hour)), types.StatusActive)))
		require.NoError(t, s.UpsertItem(ctx, testItem("past", florence, "c", nil, timePtr(time.Now().Add(-time.Hour)), types.StatusActive)))

		items, err := s.GetItemsEndingSoon(ctx, 2)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "soon", items[0].ItemID)
	})

	t.Run("archive is exclusive and atomic", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		yesterday := timePtr(time.Now().Add(-24 * time.Hour))
		rec := testItem("1", florence, "Old Chair", models.Float64Ptr(12.5), yesterday, types.StatusActive)
		require.NoError(t, s.UpsertItem(ctx, rec))
		require.NoError(t, s.UpsertItem(ctx, testItem("1", dayton, "Old Chair", models.Float64Ptr(13), yesterday, types.StatusActive)))

		endedAt := time.Now().UTC().Truncate(time.Microsecond)
		inserted, err := s.ArchiveItem(ctx, rec, endedAt)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.ArchiveItem(ctx, rec, endedAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, inserted)

		other, err := s.GetItem(ctx, "1", dayton)
		require.NoError(t, err)
		inserted, err = s.ArchiveItem(ctx, other, endedAt)
		require.NoError(t, err)
		assert.False(t, inserted, "one archive entry per item id")

		ended, err := s.GetAllEndedItems(ctx)
		require.NoError(t, err)
		require.Len(t, ended, 1)
		require.NotNil(t, ended[0].FinalPrice)
		assert.Equal(t, 12.5, *ended[0].FinalPrice)
		assert.True(t, endedAt.Equal(ended[0].EndedAt))

		one, err := s.GetEndedItem(ctx, "1")
		require.NoError(t, err)
		require.NotNil(t, one)
		assert.Equal(t, florence, one.LocationName)

		active, err := s.GetActiveItems(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, active)

		open, err := s.ListOpenItems(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)

		missing, err := s.GetEndedItem(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

// runRuleStoreContract exercises the RuleStore behaviour every backend must share.
func runRuleStoreContract(t *testing.T, newStore func(t *testing.T) RuleStore) {
	t.Run("crud", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)

		rule := &models.CrawlerRule{
			Name:                 "cheap chairs",
			SearchQuery:          "chair",
			Locations:            []string{"florence"},
			MaxBidPrice:          10,
			CheckIntervalMinutes: 5,
			IsActive:             true,
		}
		require.NoError(t, s.CreateRule(ctx, rule))
		require.NotEmpty(t, rule.ID)

		got, err := s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"florence"}, got.Locations)
		assert.Equal(t, 10.0, got.MaxBidPrice)

		rule.CheckIntervalMinutes = 15
		require.NoError(t, s.UpdateRule(ctx, rule))
		got, err = s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, 15.0, got.CheckIntervalMinutes)

		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, s.MarkRuleChecked(ctx, rule.ID, at))
		got, err = s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastChecked)
		assert.True(t, at.Equal(*got.LastChecked))

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 1)

		require.NoError(t, s.DeleteRule(ctx, rule.ID))
		got, err = s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.True(t, errors.IsNotFound(s.DeleteRule(ctx, rule.ID)))
		assert.True(t, errors.IsNotFound(s.UpdateRule(ctx, rule)))
		assert.True(t, errors.IsNotFound(s.MarkRuleChecked(ctx, rule.ID, at)))
	})

	t.Run("invalid rules are rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		err := s.CreateRule(ctx, &models.CrawlerRule{Name: "x", CheckIntervalMinutes: 0})
		assert.True(t, errors.IsConfiguration(err))
	})
}
