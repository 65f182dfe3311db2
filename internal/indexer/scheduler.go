// Package indexer runs the periodic discovery cycle: paginate every tracked
// location, normalize and upsert the listings, then retire items whose end
// date has passed into the ended archive.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auction-scanner/internal/adapter"
	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/normalizer"
	"github.com/auction-scanner/internal/ratelimit"
	"github.com/auction-scanner/internal/storage"
	"github.com/auction-scanner/internal/types"
)

// DefaultMaxPages bounds pagination per location when no limit is configured.
const DefaultMaxPages = 25

// errCycleAborted marks a cycle abandoned because the scheduler was stopped.
var errCycleAborted = fmt.Errorf("indexing cycle aborted: scheduler stopping")

// Scheduler owns the indexing timer and the single-flight cycle guard.
type Scheduler struct {
	store      storage.Store
	fetcher    adapter.Fetcher
	normalizer *normalizer.Normalizer
	pacer      *ratelimit.Pacer
	locations  []types.CanonicalLocation
	maxPages   int
	interval   time.Duration
	runOnStart bool
	logger     *logging.Logger
	now        func() time.Time

	cycleRunning atomic.Bool
	stopping     atomic.Bool

	mu          sync.RWMutex
	running     bool
	halted      bool
	haltReason  string
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastCycleAt time.Time
	lastResult  *CycleResult
	cycles      int
}

// SchedulerConfig holds the scheduler's collaborators
type SchedulerConfig struct {
	Store      storage.Store
	Fetcher    adapter.Fetcher
	Normalizer *normalizer.Normalizer
	Pacer      *ratelimit.Pacer          // nil disables inter-page and inter-location gaps
	Locations  []types.CanonicalLocation // empty means the whole catalogue
	MaxPages   int                       // default DefaultMaxPages
	Interval   time.Duration             // default 15 minutes
	RunOnStart bool
	Logger     *logging.Logger
	Now        func() time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("scheduler config", "is required")
	}
	if cfg.Store == nil {
		return nil, errors.NewConfigurationError("store", "cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, errors.NewConfigurationError("fetcher", "cannot be nil")
	}
	if cfg.Normalizer == nil {
		return nil, errors.NewConfigurationError("normalizer", "cannot be nil")
	}
	if cfg.Fetcher.PageSize() <= 0 {
		return nil, errors.NewConfigurationError("page size", "must be positive")
	}

	locations := cfg.Locations
	if len(locations) == 0 {
		locations, _ = types.ResolveLocations(nil)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		normalizer: cfg.Normalizer,
		pacer:      cfg.Pacer,
		locations:  locations,
		maxPages:   maxPages,
		interval:   interval,
		runOnStart: cfg.RunOnStart,
		logger:     logger.WithComponent("indexer"),
		now:        now,
	}, nil
}

// Start begins the indexing loop. A scheduler halted by a store outage can be
// started again without a Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && !s.halted {
		return fmt.Errorf("indexing scheduler is already running")
	}
	s.running = true
	s.halted = false
	s.haltReason = ""
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.stopping.Store(false)

	s.logger.WithFields(map[string]interface{}{
		"interval":  s.interval.String(),
		"locations": len(s.locations),
		"maxPages":  s.maxPages,
	}).Info("Starting indexing scheduler")

	go s.loop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop cancels the timer and waits for an in-flight cycle to wind down.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("indexing scheduler is not running")
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.logger.Info("Stopping indexing scheduler")
	s.stopping.Store(true)
	close(stopCh)

	select {
	case <-doneCh:
		s.logger.Info("Indexing scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Indexing scheduler stop timed out")
		return ctx.Err()
	case <-time.After(30 * time.Second):
		s.logger.Warn("Indexing scheduler stop timed out after 30s")
		return fmt.Errorf("stop timeout")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	if s.runOnStart && s.tick(ctx) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Indexing loop context cancelled")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if s.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one cycle and reports whether the loop must halt.
func (s *Scheduler) tick(ctx context.Context) bool {
	_, err := s.RunCycle(ctx)
	if err == nil {
		return false
	}
	if errors.IsCatastrophic(err) {
		s.logger.WithError(err).Error("Store unavailable, halting indexing scheduler")
		s.mu.Lock()
		s.halted = true
		s.haltReason = err.Error()
		s.mu.Unlock()
		return true
	}
	s.logger.WithError(err).Warn("Indexing cycle ended early")
	return false
}

// RunCycle performs one full discovery + reconciliation pass. A call made
// while another cycle is in flight returns immediately with Skipped set.
// Only store-level failures and cancellation are returned as errors;
// per-location and per-item failures are recorded in the result.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		s.logger.Info("Indexing cycle already in progress, skipping")
		return &CycleResult{StartedAt: s.now().UTC(), Skipped: true}, nil
	}
	defer s.cycleRunning.Store(false)

	result := &CycleResult{StartedAt: s.now().UTC()}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		s.mu.Lock()
		s.lastCycleAt = result.StartedAt
		s.lastResult = result
		s.cycles++
		s.mu.Unlock()
	}()

	if err := s.store.Ping(ctx); err != nil {
		result.Aborted = true
		return result, errors.NewStoreUnavailableError(err)
	}

	s.logger.WithField("locations", len(s.locations)).Info("Indexing cycle started")

	for i, loc := range s.locations {
		if i > 0 && s.pacer != nil {
			if err := s.pacer.BetweenLocations(ctx); err != nil {
				result.Aborted = true
				return result, ctx.Err()
			}
		}
		if s.stopping.Load() {
			result.Aborted = true
			return result, errCycleAborted
		}

		lr := &LocationResult{LocationID: loc.ID, LocationName: loc.Name}
		result.Locations = append(result.Locations, lr)

		err := s.indexLocation(ctx, loc, lr)
		result.add(lr)
		switch {
		case err == nil:
		case err == errCycleAborted:
			result.Aborted = true
			return result, err
		case errors.IsCatastrophic(err):
			result.Aborted = true
			return result, err
		case ctx.Err() != nil:
			result.Aborted = true
			return result, ctx.Err()
		default:
			lr.Error = err.Error()
			s.logger.WithError(err).WithField("location", loc.ID).Warn("Location fetch failed, continuing with next location")
		}
	}

	if s.stopping.Load() {
		result.Aborted = true
		return result, errCycleAborted
	}

	if err := s.reconcile(ctx, result); err != nil {
		result.Aborted = true
		return result, err
	}

	s.logger.WithFields(map[string]interface{}{
		"upserts":   result.UpsertsAttempted,
		"failed":    result.UpsertsFailed,
		"new":       result.New,
		"changed":   result.Changed,
		"unchanged": result.Unchanged,
		"dropped":   result.Dropped,
		"archived":  result.Archived,
		"retired":   result.Retired,
	}).Info("Indexing cycle completed")

	return result, nil
}

// indexLocation paginates one location in increasing page order. It stops
// on an empty page, a short page, or after maxPages.
func (s *Scheduler) indexLocation(ctx context.Context, loc types.CanonicalLocation, lr *LocationResult) error {
	pageSize := s.fetcher.PageSize()

	for page := 1; page <= s.maxPages; page++ {
		if page > 1 && s.pacer != nil {
			if err := s.pacer.BetweenPages(ctx); err != nil {
				return err
			}
		}

		raws, err := s.fetcher.FetchPage(ctx, loc, page)
		if s.stopping.Load() {
			return errCycleAborted
		}
		if err != nil {
			return err
		}
		lr.PagesFetched++
		lr.ItemsFetched += len(raws)

		for i := range raws {
			if err := s.ingest(ctx, &raws[i], lr); err != nil {
				return err
			}
		}

		if len(raws) < pageSize {
			break
		}
	}
	return nil
}

// ingest normalizes and upserts one raw listing. Only a catastrophic store
// error is returned; everything else is counted and logged.
func (s *Scheduler) ingest(ctx context.Context, raw *models.RawItem, lr *LocationResult) error {
	rec, err := s.normalizer.Normalize(raw)
	if err != nil {
		lr.Dropped++
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"location": lr.LocationID,
			"itemId":   raw.ID.String(),
		}).Debug("Dropping listing")
		return nil
	}

	existing, err := s.store.GetItem(ctx, rec.ItemID, rec.LocationName)
	if err != nil && errors.IsCatastrophic(err) {
		return err
	}
	kind := types.ChangeNew
	if err == nil {
		kind = normalizer.Classify(existing, rec)
	}

	lr.UpsertsAttempted++
	if err := s.store.UpsertItem(ctx, rec); err != nil {
		lr.UpsertsFailed++
		if errors.IsCatastrophic(err) {
			return err
		}
		s.logger.WithError(err).WithField("itemId", rec.ItemID).Warn("Upsert failed")
		return nil
	}

	switch kind {
	case types.ChangeNew:
		lr.New++
	case types.ChangeChanged:
		lr.Changed++
	default:
		lr.Unchanged++
	}

	// Closed upstream: snapshot into the archive now rather than waiting for the end date.
	if rec.Status == types.StatusEnded {
		inserted, err := s.store.ArchiveItem(ctx, rec, s.now().UTC())
		if err != nil {
			if errors.IsCatastrophic(err) {
				return err
			}
			s.logger.WithError(err).WithField("itemId", rec.ItemID).Warn("Archiving closed listing failed")
			return nil
		}
		if inserted {
			lr.Archived++
		}
	}
	return nil
}

// reconcile retires every open row whose end date has passed. The store's
// ArchiveItem is atomic and deduplicates by item id, so re-running it never
// produces a second archive entry.
func (s *Scheduler) reconcile(ctx context.Context, result *CycleResult) error {
	open, err := s.store.ListOpenItems(ctx)
	if err != nil {
		if errors.IsCatastrophic(err) {
			return err
		}
		s.logger.WithError(err).Warn("Listing open items failed, skipping reconciliation")
		return nil
	}

	now := s.now().UTC()
	for _, rec := range open {
		if rec.EndDate == nil || rec.EndDate.After(now) {
			continue
		}
		inserted, err := s.store.ArchiveItem(ctx, rec, now)
		if err != nil {
			if errors.IsCatastrophic(err) {
				return err
			}
			s.logger.WithError(err).WithField("itemId", rec.ItemID).Warn("Archiving ended item failed")
			continue
		}
		result.Retired++
		if inserted {
			result.Archived++
		}
	}
	return nil
}

// Status reports the scheduler state
func (s *Scheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.locations))
	for i, loc := range s.locations {
		ids[i] = loc.ID
	}

	st := &Status{
		Running:         s.running && !s.halted,
		CycleInProgress: s.cycleRunning.Load(),
		Halted:          s.halted,
		HaltReason:      s.haltReason,
		IntervalSeconds: int(s.interval.Seconds()),
		Locations:       ids,
		Cycles:          s.cycles,
		LastResult:      s.lastResult,
	}
	if !s.lastCycleAt.IsZero() {
		t := s.lastCycleAt
		st.LastCycleAt = &t
	}
	return st
}
