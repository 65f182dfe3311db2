package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/google/uuid"
)

type itemKey struct {
	itemID   string
	location string
}

// MemoryStore is an in-process Store and RuleStore. Writes are serialized
// behind one lock; readers get copies, never shared pointers.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[itemKey]*models.ItemRecord
	ended  map[string]*models.EndedAuctionItem
	rules  map[string]*models.CrawlerRule
	closed bool

	// Now is the clock used for ending-soon queries and rule timestamps
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[itemKey]*models.ItemRecord),
		ended: make(map[string]*models.EndedAuctionItem),
		rules: make(map[string]*models.CrawlerRule),
		Now:   time.Now,
	}
}

func (m *MemoryStore) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

func (m *MemoryStore) checkOpen() error {
	if m.closed {
		return errors.NewStoreUnavailableError(nil)
	}
	return nil
}

// UpsertItem inserts or overwrites the keyed row
func (m *MemoryStore) UpsertItem(ctx context.Context, rec *models.ItemRecord) error {
	if err := ValidateItem(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.items[itemKey{rec.ItemID, rec.LocationName}] = storedCopy(rec)
	return nil
}

// GetItem returns a copy of the keyed row or nil when absent
func (m *MemoryStore) GetItem(ctx context.Context, itemID, locationName string) (*models.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.items[itemKey{itemID, locationName}].Clone(), nil
}

func (m *MemoryStore) selectItems(keep func(*models.ItemRecord) bool) []*models.ItemRecord {
	out := []*models.ItemRecord{}
	for _, rec := range m.items {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// sortByBidDesc orders by current bid descending with unknown bids last,
// then by key, matching the Postgres ORDER BY.
func sortByBidDesc(items []*models.ItemRecord) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.CurrentBid != nil && b.CurrentBid == nil:
			return true
		case a.CurrentBid == nil && b.CurrentBid != nil:
			return false
		case a.CurrentBid != nil && *a.CurrentBid != *b.CurrentBid:
			return *a.CurrentBid > *b.CurrentBid
		case a.ItemID != b.ItemID:
			return a.ItemID < b.ItemID
		default:
			return a.LocationName < b.LocationName
		}
	})
}

func sortByEndDate(items []*models.ItemRecord) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.EndDate != nil && b.EndDate == nil:
			return true
		case a.EndDate == nil && b.EndDate != nil:
			return false
		case a.EndDate != nil && !a.EndDate.Equal(*b.EndDate):
			return a.EndDate.Before(*b.EndDate)
		case a.ItemID != b.ItemID:
			return a.ItemID < b.ItemID
		default:
			return a.LocationName < b.LocationName
		}
	})
}

func containsFold(field *string, needle string) bool {
	return field != nil && strings.Contains(strings.ToLower(*field), needle)
}

// SearchItems runs a case-insensitive substring search over active rows
func (m *MemoryStore) SearchItems(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	filter = filter.Normalized()
	needle := strings.ToLower(filter.Query)

	m.mu.RLock()
	if err := m.checkOpen(); err != nil {
		m.mu.RUnlock()
		return nil, err
	}
	matches := m.selectItems(func(rec *models.ItemRecord) bool {
		if rec.Status != types.StatusActive {
			return false
		}
		if needle != "" && !containsFold(rec.Title, needle) && !containsFold(rec.Description, needle) {
			return false
		}
		if filter.Location != "" && rec.LocationName != filter.Location {
			return false
		}
		if filter.MinBid != nil && (rec.CurrentBid == nil || *rec.CurrentBid < *filter.MinBid) {
			return false
		}
		if filter.MaxBid != nil && (rec.CurrentBid == nil || *rec.CurrentBid > *filter.MaxBid) {
			return false
		}
		return true
	})
	m.mu.RUnlock()

	sortByBidDesc(matches)

	result := &SearchResult{Items: []*models.ItemRecord{}, Total: len(matches), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start < len(matches) {
		end := start + filter.Limit
		if end > len(matches) {
			end = len(matches)
		}
		result.Items = matches[start:end]
	}
	return result, nil
}

// GetActiveItems returns active rows, optionally restricted to one location
func (m *MemoryStore) GetActiveItems(ctx context.Context, locationName string) ([]*models.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	items := m.selectItems(func(rec *models.ItemRecord) bool {
		return rec.Status == types.StatusActive && (locationName == "" || rec.LocationName == locationName)
	})
	sortByEndDate(items)
	return items, nil
}

// GetItemsEndingSoon returns active rows whose end date falls in the next hours
func (m *MemoryStore) GetItemsEndingSoon(ctx context.Context, hours int) ([]*models.ItemRecord, error) {
	now := m.now()
	horizon := now.Add(time.Duration(hours) * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	items := m.selectItems(func(rec *models.ItemRecord) bool {
		return rec.Status == types.StatusActive && rec.EndDate != nil &&
			rec.EndDate.After(now) && !rec.EndDate.After(horizon)
	})
	sortByEndDate(items)
	return items, nil
}

// UpdateItemStatus sets the status of one row
func (m *MemoryStore) UpdateItemStatus(ctx context.Context, itemID, locationName string, status types.ItemStatus) error {
	if !status.Valid() {
		return errors.NewMalformedRecordError("invalid status", map[string]interface{}{"status": string(status)})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	rec, ok := m.items[itemKey{itemID, locationName}]
	if !ok {
		return errors.NewNotFoundError("item", itemID+"@"+locationName)
	}
	rec.Status = status
	return nil
}

// ListOpenItems returns rows that are active or unknown
func (m *MemoryStore) ListOpenItems(ctx context.Context) ([]*models.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	items := m.selectItems(func(rec *models.ItemRecord) bool {
		return rec.Status == types.StatusActive || rec.Status == types.StatusUnknown
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].ItemID != items[j].ItemID {
			return items[i].ItemID < items[j].ItemID
		}
		return items[i].LocationName < items[j].LocationName
	})
	return items, nil
}

// ArchiveItem records the ended snapshot once per item id and marks the row
// ended under a single lock.
func (m *MemoryStore) ArchiveItem(ctx context.Context, rec *models.ItemRecord, endedAt time.Time) (bool, error) {
	if err := ValidateItem(rec); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	inserted := false
	if _, exists := m.ended[rec.ItemID]; !exists {
		m.ended[rec.ItemID] = models.NewEndedAuctionItem(rec, endedAt)
		inserted = true
	}
	if stored, ok := m.items[itemKey{rec.ItemID, rec.LocationName}]; ok {
		stored.Status = types.StatusEnded
	}
	return inserted, nil
}

func cloneEnded(e *models.EndedAuctionItem) *models.EndedAuctionItem {
	if e == nil {
		return nil
	}
	c := *e
	c.ItemRecord = *e.ItemRecord.Clone()
	c.FinalPrice = cloneFloat(e.FinalPrice)
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// GetAllEndedItems returns the archive, most recently ended first
func (m *MemoryStore) GetAllEndedItems(ctx context.Context) ([]*models.EndedAuctionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.EndedAuctionItem, 0, len(m.ended))
	for _, e := range m.ended {
		out = append(out, cloneEnded(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.After(out[j].EndedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// GetEndedItem returns one archive entry or nil when absent
func (m *MemoryStore) GetEndedItem(ctx context.Context, itemID string) (*models.EndedAuctionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return cloneEnded(m.ended[itemID]), nil
}

// CountItems returns the number of rows per status
func (m *MemoryStore) CountItems(ctx context.Context) (map[types.ItemStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	counts := map[types.ItemStatus]int{
		types.StatusActive:  0,
		types.StatusEnded:   0,
		types.StatusUnknown: 0,
	}
	for _, rec := range m.items {
		counts[rec.Status]++
	}
	return counts, nil
}

// Ping reports StoreUnavailable once the store is closed
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen()
}

// Close marks the store unavailable
func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// CreateRule stores a new rule, assigning an id and timestamps when missing
func (m *MemoryStore) CreateRule(ctx context.Context, rule *models.CrawlerRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := m.rules[rule.ID]; exists {
		return errors.NewConfigurationError("id", "rule already exists: "+rule.ID)
	}
	now := m.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Locations == nil {
		rule.Locations = []string{}
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// UpdateRule overwrites the user-editable fields of an existing rule
func (m *MemoryStore) UpdateRule(ctx context.Context, rule *models.CrawlerRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	existing, ok := m.rules[rule.ID]
	if !ok {
		return errors.NewNotFoundError("rule", rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.LastChecked = existing.LastChecked
	rule.UpdatedAt = m.now()
	if rule.Locations == nil {
		rule.Locations = []string{}
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// DeleteRule removes a rule
func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, ok := m.rules[id]; !ok {
		return errors.NewNotFoundError("rule", id)
	}
	delete(m.rules, id)
	return nil
}

// GetRule returns a copy of the rule or nil when absent
func (m *MemoryStore) GetRule(ctx context.Context, id string) (*models.CrawlerRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.rules[id].Clone(), nil
}

// ListRules returns every rule, oldest first
func (m *MemoryStore) ListRules(ctx context.Context) ([]*models.CrawlerRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.CrawlerRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkRuleChecked records the time of the rule's latest check
func (m *MemoryStore) MarkRuleChecked(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	rule, ok := m.rules[id]
	if !ok {
		return errors.NewNotFoundError("rule", id)
	}
	t := at
	rule.LastChecked = &t
	return nil
}
