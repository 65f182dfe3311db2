// Package crawler runs user-defined rules on their own timers against the
// item store and keeps the deduplicated results buffer.
package crawler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/notifier"
	"github.com/auction-scanner/internal/storage"
	"github.com/google/uuid"
)

// DefaultResultRetention is how long a stored result survives without a re-match.
const DefaultResultRetention = 24 * time.Hour

type resultKey struct {
	ruleID string
	itemID string
}

// ruleTimer is the goroutine driving one rule's checks.
type ruleTimer struct {
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

func (t *ruleTimer) cancel() {
	t.once.Do(func() { close(t.stopCh) })
}

func (t *ruleTimer) cancelled() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Engine schedules rule checks and owns the results buffer.
type Engine struct {
	store          storage.Store
	ruleStore      storage.RuleStore
	notifier       notifier.Notifier
	retention      time.Duration
	intervalUnit   time.Duration
	searchPageSize int
	logger         *logging.Logger
	now            func() time.Time

	mu      sync.RWMutex
	ctx     context.Context
	running bool
	rules   map[string]*models.CrawlerRule
	timers  map[string]*ruleTimer
	results map[resultKey]*models.StoredResult
}

// EngineConfig holds the engine's collaborators
type EngineConfig struct {
	Store          storage.Store
	RuleStore      storage.RuleStore // nil keeps rules in memory only
	Notifier       notifier.Notifier // nil disables notification
	Retention      time.Duration     // default DefaultResultRetention
	IntervalUnit   time.Duration     // duration of one check_interval_minutes unit, default time.Minute
	SearchPageSize int               // default storage.MaxSearchLimit
	Logger         *logging.Logger
	Now            func() time.Time
}

// NewEngine creates a rule engine
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, errors.NewConfigurationError("store", "cannot be nil")
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultResultRetention
	}
	unit := cfg.IntervalUnit
	if unit <= 0 {
		unit = time.Minute
	}
	pageSize := cfg.SearchPageSize
	if pageSize <= 0 || pageSize > storage.MaxSearchLimit {
		pageSize = storage.MaxSearchLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:          cfg.Store,
		ruleStore:      cfg.RuleStore,
		notifier:       cfg.Notifier,
		retention:      retention,
		intervalUnit:   unit,
		searchPageSize: pageSize,
		logger:         logger.WithComponent("crawler"),
		now:            now,
		ctx:            context.Background(),
		rules:          make(map[string]*models.CrawlerRule),
		timers:         make(map[string]*ruleTimer),
		results:        make(map[resultKey]*models.StoredResult),
	}, nil
}

// Start loads persisted rules and schedules every active one.
func (e *Engine) Start(ctx context.Context) error {
	var persisted []*models.CrawlerRule
	if e.ruleStore != nil {
		rules, err := e.ruleStore.ListRules(ctx)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		persisted = rules
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("rule engine is already running")
	}
	e.running = true
	e.ctx = ctx

	for _, rule := range persisted {
		e.rules[rule.ID] = rule
	}
	scheduled := 0
	for _, rule := range e.rules {
		if rule.IsActive {
			e.scheduleLocked(rule)
			scheduled++
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"rules":     len(e.rules),
		"scheduled": scheduled,
	}).Info("Rule engine started")
	return nil
}

// Stop cancels every rule timer and waits for in-flight checks to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("rule engine is not running")
	}
	e.running = false
	timers := make([]*ruleTimer, 0, len(e.timers))
	for id, t := range e.timers {
		t.cancel()
		timers = append(timers, t)
		delete(e.timers, id)
	}
	e.mu.Unlock()

	for _, t := range timers {
		select {
		case <-t.doneCh:
		case <-ctx.Done():
			e.logger.Warn("Rule engine stop timed out")
			return ctx.Err()
		}
	}
	e.logger.Info("Rule engine stopped")
	return nil
}

// AddRule validates, persists and schedules a new rule.
func (e *Engine) AddRule(ctx context.Context, rule *models.CrawlerRule) (*models.CrawlerRule, error) {
	if err := storage.ValidateRule(rule); err != nil {
		return nil, err
	}
	rule = rule.Clone()
	if rule.Locations == nil {
		rule.Locations = []string{}
	}

	if e.ruleStore != nil {
		if err := e.ruleStore.CreateRule(ctx, rule); err != nil {
			return nil, err
		}
	} else {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		now := e.now().UTC()
		rule.CreatedAt, rule.UpdatedAt = now, now
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists && e.ruleStore == nil {
		return nil, errors.NewConfigurationError("id", "rule already exists: "+rule.ID)
	}
	e.rules[rule.ID] = rule
	if rule.IsActive && e.running {
		e.scheduleLocked(rule)
	}

	e.logger.WithFields(map[string]interface{}{
		"ruleId": rule.ID,
		"name":   rule.Name,
	}).Info("Rule added")
	return rule.Clone(), nil
}

// UpdateRule replaces a rule's definition. Its timer is always removed and
// re-created so an interval change never leaves two timers behind.
func (e *Engine) UpdateRule(ctx context.Context, rule *models.CrawlerRule) (*models.CrawlerRule, error) {
	if err := storage.ValidateRule(rule); err != nil {
		return nil, err
	}
	rule = rule.Clone()
	if rule.Locations == nil {
		rule.Locations = []string{}
	}

	e.mu.RLock()
	existing, ok := e.rules[rule.ID]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("rule", rule.ID)
	}

	if e.ruleStore != nil {
		if err := e.ruleStore.UpdateRule(ctx, rule); err != nil {
			return nil, err
		}
	} else {
		rule.CreatedAt = existing.CreatedAt
		rule.LastChecked = existing.LastChecked
		rule.UpdatedAt = e.now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.unscheduleLocked(rule.ID)
	e.rules[rule.ID] = rule
	if rule.IsActive && e.running {
		e.scheduleLocked(rule)
	}

	e.logger.WithField("ruleId", rule.ID).Info("Rule updated")
	return rule.Clone(), nil
}

// RemoveRule cancels the rule's timer, deletes it and discards its results.
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.rules[id]; !ok {
		e.mu.Unlock()
		return errors.NewNotFoundError("rule", id)
	}
	e.unscheduleLocked(id)
	delete(e.rules, id)
	for key := range e.results {
		if key.ruleID == id {
			delete(e.results, key)
		}
	}
	e.mu.Unlock()

	if e.ruleStore != nil {
		if err := e.ruleStore.DeleteRule(ctx, id); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	e.logger.WithField("ruleId", id).Info("Rule removed")
	return nil
}

// GetRule returns a copy of the rule, or nil when it is unknown
func (e *Engine) GetRule(id string) *models.CrawlerRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules[id].Clone()
}

// ListRules returns every rule, oldest first
func (e *Engine) ListRules() []*models.CrawlerRule {
	return e.selectRules(func(*models.CrawlerRule) bool { return true })
}

// GetActiveRules returns the active rules, oldest first
func (e *Engine) GetActiveRules() []*models.CrawlerRule {
	return e.selectRules(func(r *models.CrawlerRule) bool { return r.IsActive })
}

func (e *Engine) selectRules(keep func(*models.CrawlerRule) bool) []*models.CrawlerRule {
	e.mu.RLock()
	out := make([]*models.CrawlerRule, 0, len(e.rules))
	for _, r := range e.rules {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TimerCount returns the number of live rule timers
func (e *Engine) TimerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.timers)
}

// Running reports whether the engine has been started
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// scheduleLocked starts the rule's timer, replacing any existing one.
// Caller holds e.mu.
func (e *Engine) scheduleLocked(rule *models.CrawlerRule) {
	e.unscheduleLocked(rule.ID)
	t := &ruleTimer{
		interval: ruleInterval(rule.CheckIntervalMinutes, e.intervalUnit),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if t.interval <= 0 {
		// only reachable for persisted rules that bypassed validation
		e.logger.WithFields(map[string]interface{}{
			"ruleId":   rule.ID,
			"interval": rule.CheckIntervalMinutes,
		}).Warn("Rule interval out of range, checking every interval unit")
		t.interval = e.intervalUnit
	}
	e.timers[rule.ID] = t
	go e.runTimer(e.ctx, rule.ID, t)
}

// ruleInterval converts a rule interval to a timer period, or 0 when it is
// not a positive duration that fits.
func ruleInterval(minutes float64, unit time.Duration) time.Duration {
	d := minutes * float64(unit)
	if !(d >= 1) || d >= float64(math.MaxInt64) {
		return 0
	}
	return time.Duration(d)
}

// unscheduleLocked cancels the rule's timer without waiting for it.
// Caller holds e.mu.
func (e *Engine) unscheduleLocked(id string) {
	if t, ok := e.timers[id]; ok {
		t.cancel()
		delete(e.timers, id)
	}
}

func (e *Engine) runTimer(ctx context.Context, id string, t *ruleTimer) {
	defer close(t.doneCh)

	if e.scheduledCheck(ctx, id, t) {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			if e.scheduledCheck(ctx, id, t) {
				return
			}
		}
	}
}

// scheduledCheck runs one timer-driven check and reports whether the timer
// must halt. Failures other than an unreachable store are logged and retried
// on the next tick.
func (e *Engine) scheduledCheck(ctx context.Context, id string, t *ruleTimer) bool {
	if t.cancelled() {
		return true
	}
	rule := e.GetRule(id)
	if rule == nil {
		return true
	}

	_, err := e.check(ctx, rule, true, t.cancelled)
	if err == nil {
		return false
	}
	if errors.IsCatastrophic(err) {
		e.logger.WithError(err).WithField("ruleId", id).Error("Store unavailable, halting rule timer")
		e.mu.Lock()
		if e.timers[id] == t {
			delete(e.timers, id)
		}
		e.mu.Unlock()
		return true
	}
	e.logger.WithError(err).WithField("ruleId", id).Warn("Rule check failed")
	return false
}

// CheckRule runs one check of rule immediately and returns the results it
// matched. The rule does not need to be registered.
func (e *Engine) CheckRule(ctx context.Context, rule *models.CrawlerRule) ([]*models.StoredResult, error) {
	if rule == nil {
		return nil, errors.NewConfigurationError("rule", "is required")
	}
	return e.check(ctx, rule.Clone(), false, func() bool { return false })
}

// CheckRuleByID runs one check of a registered rule immediately.
func (e *Engine) CheckRuleByID(ctx context.Context, id string) ([]*models.StoredResult, error) {
	rule := e.GetRule(id)
	if rule == nil {
		return nil, errors.NewNotFoundError("rule", id)
	}
	return e.check(ctx, rule, true, func() bool { return false })
}

// check matches rule against the store and buffers the results. A registered
// rule that was removed or rescheduled while the search ran writes nothing.
func (e *Engine) check(ctx context.Context, rule *models.CrawlerRule, registered bool, cancelled func() bool) ([]*models.StoredResult, error) {
	items, err := e.searchAll(ctx, rule.SearchQuery)
	if err != nil {
		return nil, err
	}
	if cancelled() {
		return nil, nil
	}

	now := e.now().UTC()
	var matches []notifier.Match
	var matched []*models.StoredResult

	e.mu.Lock()
	if cancelled() {
		e.mu.Unlock()
		return nil, nil
	}
	if _, ok := e.rules[rule.ID]; registered && !ok {
		e.mu.Unlock()
		return nil, errors.NewNotFoundError("rule", rule.ID)
	}
	for _, item := range items {
		if !MatchesRule(item, rule, now) {
			continue
		}
		key := resultKey{ruleID: rule.ID, itemID: item.ItemID}
		res, exists := e.results[key]
		if !exists {
			res = &models.StoredResult{RuleID: rule.ID, ItemID: item.ItemID}
			e.results[key] = res
		}
		res.RuleName = rule.Name
		res.Item = item
		res.MatchedAt = now
		matched = append(matched, cloneResult(res))
		matches = append(matches, notifier.Match{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Item:      item.Clone(),
			MatchedAt: now,
			IsNew:     !exists,
		})
	}
	purged := e.purgeLocked(now)
	if r, ok := e.rules[rule.ID]; ok {
		t := now
		r.LastChecked = &t
	}
	e.mu.Unlock()

	for _, m := range matches {
		e.notify(ctx, m)
	}

	if e.ruleStore != nil {
		if err := e.ruleStore.MarkRuleChecked(ctx, rule.ID, now); err != nil && !errors.IsNotFound(err) {
			e.logger.WithError(err).WithField("ruleId", rule.ID).Warn("Recording rule check time failed")
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"ruleId":     rule.ID,
		"candidates": len(items),
		"matches":    len(matched),
		"purged":     purged,
	}).Debug("Rule checked")

	if matched == nil {
		matched = []*models.StoredResult{}
	}
	return matched, nil
}

// searchAll pages through every active item matching query.
func (e *Engine) searchAll(ctx context.Context, query string) ([]*models.ItemRecord, error) {
	var items []*models.ItemRecord
	for page := 1; ; page++ {
		res, err := e.store.SearchItems(ctx, storage.SearchFilter{
			Query: query,
			Page:  page,
			Limit: e.searchPageSize,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if len(res.Items) < e.searchPageSize || len(items) >= res.Total {
			return items, nil
		}
	}
}

// notify delivers one match; failures and panics are logged and swallowed.
func (e *Engine) notify(ctx context.Context, m notifier.Match) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("ruleId", m.RuleID).Errorf("Notifier panicked: %v", r)
		}
	}()
	if err := e.notifier.Notify(ctx, m); err != nil {
		e.logger.WithError(err).WithField("ruleId", m.RuleID).Warn("Notification failed")
	}
}

// purgeLocked drops results not re-matched within the retention window.
// Caller holds e.mu.
func (e *Engine) purgeLocked(now time.Time) int {
	cutoff := now.Add(-e.retention)
	purged := 0
	for key, res := range e.results {
		if res.MatchedAt.Before(cutoff) {
			delete(e.results, key)
			purged++
		}
	}
	return purged
}

// GetStoredResults returns every buffered result, newest match first.
func (e *Engine) GetStoredResults() []*models.StoredResult {
	return e.selectResults(func(*models.StoredResult) bool { return true })
}

// GetResultsForRule returns the buffered results of one rule, newest first.
func (e *Engine) GetResultsForRule(ruleID string) []*models.StoredResult {
	return e.selectResults(func(r *models.StoredResult) bool { return r.RuleID == ruleID })
}

func (e *Engine) selectResults(keep func(*models.StoredResult) bool) []*models.StoredResult {
	e.mu.RLock()
	out := make([]*models.StoredResult, 0, len(e.results))
	for _, res := range e.results {
		if keep(res) {
			out = append(out, cloneResult(res))
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchedAt.Equal(out[j].MatchedAt) {
			return out[i].MatchedAt.After(out[j].MatchedAt)
		}
		if out[i].RuleID != out[j].RuleID {
			return out[i].RuleID < out[j].RuleID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// SetResultFlags updates the user flags of one buffered result.
func (e *Engine) SetResultFlags(ruleID, itemID string, flags models.ResultFlags) (*models.StoredResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[resultKey{ruleID: ruleID, itemID: itemID}]
	if !ok {
		return nil, errors.NewNotFoundError("result", ruleID+"/"+itemID)
	}
	if flags.IsTracked != nil {
		res.IsTracked = *flags.IsTracked
	}
	if flags.IsWatched != nil {
		res.IsWatched = *flags.IsWatched
	}
	return cloneResult(res), nil
}

func cloneResult(r *models.StoredResult) *models.StoredResult {
	c := *r
	c.Item = r.Item.Clone()
	return &c
}
