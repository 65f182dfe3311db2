package crawler

import (
	"testing"
	"time"

	"github.com/auction-scanner/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestMatchesRule(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	base := func() *models.ItemRecord { return item("1", florence, "Chair", 8, 90*time.Minute, now) }
	rule := func() *models.CrawlerRule {
		return &models.CrawlerRule{MaxBidPrice: 10, Locations: []string{"florence"}, CheckIntervalMinutes: 1}
	}

	tests := []struct {
		name  string
		item  func() *models.ItemRecord
		rule  func() *models.CrawlerRule
		match bool
	}{
		{name: "all constraints hold", item: base, rule: rule, match: true},
		{name: "price equal to max", item: func() *models.ItemRecord {
			r := base()
			r.CurrentBid = models.Float64Ptr(10)
			return r
		}, rule: rule, match: true},
		{name: "price above max", item: func() *models.ItemRecord {
			r := base()
			r.CurrentBid = models.Float64Ptr(10.01)
			return r
		}, rule: rule, match: false},
		{name: "unknown price", item: func() *models.ItemRecord {
			r := base()
			r.CurrentBid = nil
			return r
		}, rule: rule, match: false},
		{name: "unknown end date", item: func() *models.ItemRecord {
			r := base()
			r.EndDate = nil
			return r
		}, rule: rule, match: false},
		{name: "already ended", item: func() *models.ItemRecord {
			return item("1", florence, "Chair", 8, -time.Minute, now)
		}, rule: rule, match: false},
		{name: "ends later than max time left", item: base, rule: func() *models.CrawlerRule {
			r := rule()
			r.MaxTimeLeftMinutes = 60
			return r
		}, match: false},
		{name: "ends within max time left", item: base, rule: func() *models.CrawlerRule {
			r := rule()
			r.MaxTimeLeftMinutes = 120
			return r
		}, match: true},
		{name: "location slug resolves to keyword", item: base, rule: func() *models.CrawlerRule {
			r := rule()
			r.Locations = []string{"florence-empire"}
			return r
		}, match: true},
		{name: "other location", item: base, rule: func() *models.CrawlerRule {
			r := rule()
			r.Locations = []string{"Dayton"}
			return r
		}, match: false},
		{name: "slug matches facility regardless of formatting", item: func() *models.ItemRecord {
			r := base()
			r.LocationName = dayton
			r.LocationText = "DAYTON — edwin c moses blvd"
			return r
		}, rule: func() *models.CrawlerRule {
			r := rule()
			r.Locations = []string{"dayton-moses"}
			return r
		}, match: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, MatchesRule(tt.item(), tt.rule(), now))
		})
	}

	assert.False(t, MatchesRule(nil, rule(), now))
	assert.False(t, MatchesRule(base(), nil, now))
}

func TestMatchesRule_PriceMonotonicityProperty(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("lowering the bid never turns a match into a miss", prop.ForAll(
		func(bid, drop, maxBid float64) bool {
			rule := &models.CrawlerRule{MaxBidPrice: maxBid, CheckIntervalMinutes: 1}
			before := item("1", florence, "Chair", bid, time.Hour, now)
			after := item("1", florence, "Chair", bid-drop, time.Hour, now)
			return !MatchesRule(before, rule, now) || MatchesRule(after, rule, now)
		},
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
	))

	properties.Property("a bid at or below the max always matches", prop.ForAll(
		func(maxBid, frac float64) bool {
			rule := &models.CrawlerRule{MaxBidPrice: maxBid, CheckIntervalMinutes: 1}
			return MatchesRule(item("1", florence, "Chair", maxBid*frac, time.Hour, now), rule, now)
		},
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
