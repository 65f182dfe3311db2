package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/normalizer"
	"github.com/auction-scanner/internal/ratelimit"
	"github.com/auction-scanner/internal/storage"
	"github.com/auction-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fetchCall struct {
	location string
	page     int
}

// fakeFetcher serves canned pages per location id.
type fakeFetcher struct {
	mu       sync.Mutex
	pageSize int
	pages    map[string][][]models.RawItem
	errs     map[string]error
	calls    []fetchCall
	onFetch  func(loc types.CanonicalLocation, page int)
}

func newFakeFetcher(pageSize int) *fakeFetcher {
	return &fakeFetcher{
		pageSize: pageSize,
		pages:    map[string][][]models.RawItem{},
		errs:     map[string]error{},
	}
}

func (f *fakeFetcher) PageSize() int { return f.pageSize }

func (f *fakeFetcher) FetchPage(ctx context.Context, loc types.CanonicalLocation, page int) ([]models.RawItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{location: loc.ID, page: page})
	hook := f.onFetch
	err := f.errs[loc.ID]
	pages := f.pages[loc.ID]
	f.mu.Unlock()

	if hook != nil {
		hook(loc, page)
	}
	if err != nil {
		return nil, err
	}
	if page-1 < len(pages) {
		return pages[page-1], nil
	}
	return nil, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func rawItems(loc types.CanonicalLocation, from, n int, bid string) []models.RawItem {
	end := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	out := make([]models.RawItem, n)
	for i := range out {
		id := from + i
		out[i] = models.RawItem{
			ID:           models.FlexText(fmt.Sprintf("%d", id)),
			AuctionID:    "AUC-7",
			Title:        fmt.Sprintf("Lot %d", id),
			CurrentBid:   models.FlexText(bid),
			EndDate:      models.FlexText(end),
			LocationName: loc.Name,
		}
	}
	return out
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type harness struct {
	store   *storage.MemoryStore
	fetcher *fakeFetcher
	sleeps  *sleepRecorder
	sched   *Scheduler
}

func newHarness(t *testing.T, pageSize int, locations ...types.CanonicalLocation) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	store.Now = func() time.Time { return testNow }
	fetcher := newFakeFetcher(pageSize)
	sleeps := &sleepRecorder{}

	pacer, err := ratelimit.NewPacer(&ratelimit.PacerConfig{
		PageDelay:     time.Second,
		LocationDelay: 3 * time.Second,
		Sleep:         sleeps.sleep,
	})
	require.NoError(t, err)

	norm := normalizer.New("https://auction.example.com")
	norm.Now = func() time.Time { return testNow }

	sched, err := NewScheduler(&SchedulerConfig{
		Store:      store,
		Fetcher:    fetcher,
		Normalizer: norm,
		Pacer:      pacer,
		Locations:  locations,
		MaxPages:   10,
		Interval:   time.Hour,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	return &harness{store: store, fetcher: fetcher, sleeps: sleeps, sched: sched}
}

func TestRunCycle_StopsOnShortPage(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 100, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{
		rawItems(florence, 1, 100, "5.00"),
		rawItems(florence, 101, 40, "5.00"),
		rawItems(florence, 141, 100, "5.00"),
	}

	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 140, result.UpsertsAttempted)
	assert.Equal(t, 140, result.New)
	assert.Zero(t, result.UpsertsFailed)
	assert.Equal(t, []fetchCall{{florence.ID, 1}, {florence.ID, 2}}, h.fetcher.calls, "no page 3 after a short page")
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps.waits, "one inter-page gap")

	active, err := h.store.GetActiveItems(context.Background(), florence.Name)
	require.NoError(t, err)
	assert.Len(t, active, 140)
}

func TestRunCycle_StopsOnEmptyPageAndMaxPages(t *testing.T) {
	florence := types.Locations[0]

	h := newHarness(t, 2, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 2, "1")}
	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.fetcher.callCount(), "empty second page ends pagination")

	h = newHarness(t, 2, florence)
	var pages [][]models.RawItem
	for p := 0; p < 20; p++ {
		pages = append(pages, rawItems(florence, p*2+1, 2, "1"))
	}
	h.fetcher.pages[florence.ID] = pages
	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, h.fetcher.callCount(), "bounded by max pages")
	assert.Equal(t, 20, result.UpsertsAttempted)
}

func TestRunCycle_ClassifiesRefetches(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 3, "5.00")}

	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Unchanged)
	assert.Zero(t, result.New)

	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 3, "7.25")}
	result, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Changed)

	rec, err := h.store.GetItem(context.Background(), "1", florence.Name)
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentBid)
	assert.Equal(t, 7.25, *rec.CurrentBid)

	counts, err := h.store.CountItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[types.StatusActive], "refetches converge on the same rows")
}

func TestRunCycle_DropsUnknownLocationsAndMalformedRecords(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	page := rawItems(florence, 1, 3, "5.00")
	page[1].LocationName = "Florence Industrial Rd Annex"
	page[2].ID = ""
	h.fetcher.pages[florence.ID] = [][]models.RawItem{page}

	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dropped)
	assert.Equal(t, 1, result.UpsertsAttempted)

	rec, err := h.store.GetItem(context.Background(), "2", florence.Name)
	require.NoError(t, err)
	assert.Nil(t, rec, "unlisted location is never stored")
}

func TestRunCycle_LocationFailureContinues(t *testing.T) {
	florence, dayton := types.Locations[0], types.Locations[7]
	h := newHarness(t, 10, florence, dayton)
	h.fetcher.errs[florence.ID] = errors.NewTransientFetchError(florence.ID, 1, fmt.Errorf("status 503"))
	h.fetcher.pages[dayton.ID] = [][]models.RawItem{rawItems(dayton, 1, 4, "2")}

	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Locations, 2)
	assert.NotEmpty(t, result.Locations[0].Error)
	assert.Empty(t, result.Locations[1].Error)
	assert.Equal(t, 4, result.UpsertsAttempted)
	assert.Contains(t, h.sleeps.waits, 3*time.Second, "inter-location gap applied")
}

func TestRunCycle_TotalFetchFailureKeepsStore(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 5, "5")}
	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	h.fetcher.errs[florence.ID] = errors.NewTransientFetchError(florence.ID, 1, fmt.Errorf("timeout"))
	_, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	active, err := h.store.GetActiveItems(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestRunCycle_ReconcilesEndedItems(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	ctx := context.Background()

	yesterday := testNow.Add(-24 * time.Hour)
	tomorrow := testNow.Add(24 * time.Hour)
	require.NoError(t, h.store.UpsertItem(ctx, &models.ItemRecord{
		ItemID: "old", LocationName: florence.Name, SourceURL: "https://auction.example.com/A/item-detail/old",
		CurrentBid: models.Float64Ptr(42.5), EndDate: &yesterday, Status: types.StatusActive,
	}))
	require.NoError(t, h.store.UpsertItem(ctx, &models.ItemRecord{
		ItemID: "live", LocationName: florence.Name, SourceURL: "https://auction.example.com/A/item-detail/live",
		CurrentBid: models.Float64Ptr(3), EndDate: &tomorrow, Status: types.StatusActive,
	}))
	require.NoError(t, h.store.UpsertItem(ctx, &models.ItemRecord{
		ItemID: "undated", LocationName: florence.Name, SourceURL: "https://auction.example.com/A/item-detail/undated",
		Status: types.StatusUnknown,
	}))

	result, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.Retired)

	active, err := h.store.GetActiveItems(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ItemID)

	ended, err := h.store.GetAllEndedItems(ctx)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "old", ended[0].ItemID)
	require.NotNil(t, ended[0].FinalPrice)
	assert.Equal(t, 42.5, *ended[0].FinalPrice)

	undated, err := h.store.GetItem(ctx, "undated", florence.Name)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnknown, undated.Status, "missing end date is left for the next fetch")

	result, err = h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Archived)
	ended, err = h.store.GetAllEndedItems(ctx)
	require.NoError(t, err)
	assert.Len(t, ended, 1, "archive entry is written once")
}

func TestRunCycle_ArchivesClosedListings(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	page := rawItems(florence, 1, 2, "9.00")
	page[0].Closed = true
	h.fetcher.pages[florence.ID] = [][]models.RawItem{page}

	result, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)

	ended, err := h.store.GetEndedItem(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, 9.0, *ended.FinalPrice)
}

func TestRunCycle_SkipsWhenCycleInFlight(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 1, "1")}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.fetcher.onFetch = func(types.CanonicalLocation, int) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *CycleResult)
	go func() {
		res, _ := h.sched.RunCycle(context.Background())
		done <- res
	}()

	<-entered
	assert.True(t, h.sched.Status().CycleInProgress)
	skipped, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.UpsertsAttempted)
	assert.Equal(t, 1, h.fetcher.callCount())
}

func TestRunCycle_StoreUnavailableIsCatastrophic(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.store.Close()

	result, err := h.sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCatastrophic(err))
	assert.True(t, result.Aborted)
	assert.Zero(t, h.fetcher.callCount())
}

func TestRunCycle_StoppingAbandonsAfterFetch(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 3, "1")}
	h.fetcher.onFetch = func(types.CanonicalLocation, int) { h.sched.stopping.Store(true) }

	result, err := h.sched.RunCycle(context.Background())
	assert.Equal(t, errCycleAborted, err)
	assert.True(t, result.Aborted)

	active, err := h.store.GetActiveItems(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, active, "no state written after the stop was observed")
}

func TestScheduler_StartStop(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.sched.runOnStart = true
	h.fetcher.pages[florence.ID] = [][]models.RawItem{rawItems(florence, 1, 2, "1")}

	ctx := context.Background()
	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx), "double start is rejected")

	require.Eventually(t, func() bool { return h.sched.Status().Cycles >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.sched.Status().Running)

	require.NoError(t, h.sched.Stop(ctx))
	assert.False(t, h.sched.Status().Running)
	assert.Error(t, h.sched.Stop(ctx))

	require.NoError(t, h.sched.Start(ctx), "scheduler can be restarted")
	require.NoError(t, h.sched.Stop(ctx))
}

func TestScheduler_HaltsWhenStoreUnavailable(t *testing.T) {
	florence := types.Locations[0]
	h := newHarness(t, 10, florence)
	h.sched.runOnStart = true
	h.store.Close()

	ctx := context.Background()
	require.NoError(t, h.sched.Start(ctx))
	require.Eventually(t, func() bool { return h.sched.Status().Halted }, 2*time.Second, 10*time.Millisecond)

	st := h.sched.Status()
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.HaltReason)

	h.sched.runOnStart = false
	require.NoError(t, h.sched.Start(ctx), "a halted scheduler restarts without Stop")
	st = h.sched.Status()
	assert.True(t, st.Running)
	assert.False(t, st.Halted)
	assert.Empty(t, st.HaltReason)
	assert.Error(t, h.sched.Start(ctx))

	require.NoError(t, h.sched.Stop(ctx))
	assert.False(t, h.sched.Status().Running)
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil)
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewScheduler(&SchedulerConfig{Store: storage.NewMemoryStore()})
	assert.True(t, errors.IsConfiguration(err))

	sched, err := NewScheduler(&SchedulerConfig{
		Store:      storage.NewMemoryStore(),
		Fetcher:    newFakeFetcher(5),
		Normalizer: normalizer.New("https://x"),
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	assert.Len(t, sched.Status().Locations, len(types.Locations))
	assert.Equal(t, DefaultMaxPages, sched.maxPages)
}
