// Package storage provides the item store, the rule store and their
// Postgres and in-memory implementations.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
)

// Search paging limits.
const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

// Store is the content-addressed item store shared by the indexer, the rule
// engine and the HTTP surface. Items are keyed by (item_id, location_name).
// Getters return (nil, nil) when the row does not exist.
type Store interface {
	// UpsertItem inserts or overwrites every mutable column of the keyed row.
	UpsertItem(ctx context.Context, rec *models.ItemRecord) error
	GetItem(ctx context.Context, itemID, locationName string) (*models.ItemRecord, error)
	// SearchItems returns active rows only, ordered by current_bid descending.
	SearchItems(ctx context.Context, filter SearchFilter) (*SearchResult, error)
	// GetActiveItems returns active rows, optionally for one location.
	GetActiveItems(ctx context.Context, locationName string) ([]*models.ItemRecord, error)
	// GetItemsEndingSoon returns active rows ending within the next hours.
	GetItemsEndingSoon(ctx context.Context, hours int) ([]*models.ItemRecord, error)
	UpdateItemStatus(ctx context.Context, itemID, locationName string, status types.ItemStatus) error
	// ListOpenItems returns every row whose status is active or unknown.
	ListOpenItems(ctx context.Context) ([]*models.ItemRecord, error)
	// ArchiveItem atomically records the ended snapshot (once per item_id)
	// and marks the row ended. It reports whether a new archive entry was written.
	ArchiveItem(ctx context.Context, rec *models.ItemRecord, endedAt time.Time) (bool, error)
	GetAllEndedItems(ctx context.Context) ([]*models.EndedAuctionItem, error)
	GetEndedItem(ctx context.Context, itemID string) (*models.EndedAuctionItem, error)
	// CountItems returns row counts per status.
	CountItems(ctx context.Context) (map[types.ItemStatus]int, error)
	Ping(ctx context.Context) error
	Close()
}

// RuleStore persists crawler rule definitions.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.CrawlerRule) error
	UpdateRule(ctx context.Context, rule *models.CrawlerRule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.CrawlerRule, error)
	ListRules(ctx context.Context) ([]*models.CrawlerRule, error)
	MarkRuleChecked(ctx context.Context, id string, at time.Time) error
}

// SearchFilter selects active items. Zero values disable a filter.
type SearchFilter struct {
	Query    string   `json:"query,omitempty"`
	Location string   `json:"location,omitempty"`
	MinBid   *float64 `json:"minBid,omitempty"`
	MaxBid   *float64 `json:"maxBid,omitempty"`
	Page     int      `json:"page"`  // 1-based
	Limit    int      `json:"limit"` // default 50, max 500
}

// Normalized returns a copy with paging defaults applied.
func (f SearchFilter) Normalized() SearchFilter {
	f.Query = strings.TrimSpace(f.Query)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	return f
}

// Offset returns the row offset of the filter's page
func (f SearchFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// SearchResult is one page of a search plus the total match count.
type SearchResult struct {
	Items []*models.ItemRecord `json:"items"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// ValidateItem rejects records missing a key or the source url. An empty
// status is accepted and stored as unknown; rec is never modified.
func ValidateItem(rec *models.ItemRecord) error {
	if rec == nil {
		return errors.NewMalformedRecordError("nil item record", nil)
	}
	missing := []string{}
	if strings.TrimSpace(rec.ItemID) == "" {
		missing = append(missing, "item_id")
	}
	if strings.TrimSpace(rec.LocationName) == "" {
		missing = append(missing, "location_name")
	}
	if strings.TrimSpace(rec.SourceURL) == "" {
		missing = append(missing, "source_url")
	}
	if len(missing) > 0 {
		return errors.NewMalformedRecordError("missing required fields", map[string]interface{}{
			"itemId":  rec.ItemID,
			"missing": missing,
		})
	}
	if rec.Status != "" && !rec.Status.Valid() {
		return errors.NewMalformedRecordError("invalid status", map[string]interface{}{
			"itemId": rec.ItemID,
			"status": string(rec.Status),
		})
	}
	return nil
}

// storedCopy is the copy of rec a store persists, with the status defaulted.
func storedCopy(rec *models.ItemRecord) *models.ItemRecord {
	c := rec.Clone()
	if c.Status == "" {
		c.Status = types.StatusUnknown
	}
	return c
}

// Rule check intervals outside these bounds are rejected.
const (
	MinCheckIntervalMinutes = 1.0
	MaxCheckIntervalMinutes = 30 * 24 * 60.0
)

// ValidateRule checks a rule before it is persisted or scheduled.
// Invalid values are rejected, never clamped.
func ValidateRule(rule *models.CrawlerRule) error {
	if rule == nil {
		return errors.NewConfigurationError("rule", "is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return errors.NewConfigurationError("name", "is required")
	}
	if !(rule.CheckIntervalMinutes > 0) {
		return errors.NewConfigurationError("check_interval_minutes", "must be greater than zero")
	}
	if rule.CheckIntervalMinutes < MinCheckIntervalMinutes || rule.CheckIntervalMinutes > MaxCheckIntervalMinutes {
		return errors.NewConfigurationError("check_interval_minutes",
			fmt.Sprintf("must be between %g and %g", MinCheckIntervalMinutes, MaxCheckIntervalMinutes))
	}
	if !(rule.MaxBidPrice >= 0) {
		return errors.NewConfigurationError("max_bid_price", "cannot be negative")
	}
	if !(rule.MaxTimeLeftMinutes >= 0) {
		return errors.NewConfigurationError("max_time_left_minutes", "cannot be negative")
	}
	for _, loc := range rule.Locations {
		if strings.TrimSpace(loc) == "" {
			return errors.NewConfigurationError("locations", "cannot contain empty identifiers")
		}
	}
	return nil
}

// likePattern escapes LIKE wildcards in a free-text query and wraps it for
// substring matching.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
