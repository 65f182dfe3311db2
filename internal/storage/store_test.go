package storage

import (
	"math"
	"testing"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSearchFilter_Normalized(t *testing.T) {
	f := SearchFilter{Query: "  chair "}.Normalized()
	assert.Equal(t, "chair", f.Query)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultSearchLimit, f.Limit)
	assert.Equal(t, 0, f.Offset())

	f = SearchFilter{Page: 3, Limit: 10_000}.Normalized()
	assert.Equal(t, MaxSearchLimit, f.Limit)
	assert.Equal(t, 2*MaxSearchLimit, f.Offset())
}

func TestValidateItem(t *testing.T) {
	rec := &models.ItemRecord{ItemID: "1", LocationName: florence, SourceURL: "https://x"}
	assert.NoError(t, ValidateItem(rec))
	assert.Empty(t, rec.Status, "validation leaves the caller's record alone")

	assert.True(t, errors.IsMalformed(ValidateItem(nil)))
	assert.True(t, errors.IsMalformed(ValidateItem(&models.ItemRecord{LocationName: florence, SourceURL: "x"})))
	assert.True(t, errors.IsMalformed(ValidateItem(&models.ItemRecord{ItemID: "1", SourceURL: "x"})))
	assert.True(t, errors.IsMalformed(ValidateItem(&models.ItemRecord{ItemID: "1", LocationName: florence})))
	assert.True(t, errors.IsMalformed(ValidateItem(&models.ItemRecord{ItemID: "1", LocationName: florence, SourceURL: "x", Status: "gone"})))
}

func TestValidateRule(t *testing.T) {
	valid := func() *models.CrawlerRule {
		return &models.CrawlerRule{Name: "chairs", MaxBidPrice: 10, CheckIntervalMinutes: 5}
	}

	assert.NoError(t, ValidateRule(valid()))

	tests := []struct {
		name   string
		mutate func(r *models.CrawlerRule)
	}{
		{name: "empty name", mutate: func(r *models.CrawlerRule) { r.Name = " " }},
		{name: "zero interval", mutate: func(r *models.CrawlerRule) { r.CheckIntervalMinutes = 0 }},
		{name: "negative interval", mutate: func(r *models.CrawlerRule) { r.CheckIntervalMinutes = -1 }},
		{name: "sub-minute interval", mutate: func(r *models.CrawlerRule) { r.CheckIntervalMinutes = 1e-9 }},
		{name: "huge interval", mutate: func(r *models.CrawlerRule) { r.CheckIntervalMinutes = 1e12 }},
		{name: "NaN interval", mutate: func(r *models.CrawlerRule) { r.CheckIntervalMinutes = math.NaN() }},
		{name: "negative price", mutate: func(r *models.CrawlerRule) { r.MaxBidPrice = -0.01 }},
		{name: "negative time left", mutate: func(r *models.CrawlerRule) { r.MaxTimeLeftMinutes = -5 }},
		{name: "blank location", mutate: func(r *models.CrawlerRule) { r.Locations = []string{"florence", ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			assert.True(t, errors.IsConfiguration(ValidateRule(r)))
		})
	}

	assert.True(t, errors.IsConfiguration(ValidateRule(nil)))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%chair%", likePattern("chair"))
	assert.Equal(t, `%100\%\_off\\%`, likePattern(`100%_off\`))
}
