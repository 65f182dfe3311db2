package indexer

import "time"

// LocationResult counts what one location contributed to a cycle.
type LocationResult struct {
	LocationID       string `json:"locationId"`
	LocationName     string `json:"locationName"`
	PagesFetched     int    `json:"pagesFetched"`
	ItemsFetched     int    `json:"itemsFetched"`
	UpsertsAttempted int    `json:"upsertsAttempted"`
	UpsertsFailed    int    `json:"upsertsFailed"`
	New              int    `json:"new"`
	Changed          int    `json:"changed"`
	Unchanged        int    `json:"unchanged"`
	Dropped          int    `json:"dropped"` // malformed or unknown location
	Archived         int    `json:"archived"`
	Error            string `json:"error,omitempty"`
}

// CycleResult summarizes one indexing cycle.
type CycleResult struct {
	StartedAt        time.Time         `json:"startedAt"`
	Duration         time.Duration     `json:"duration"`
	Skipped          bool              `json:"skipped"`
	Aborted          bool              `json:"aborted"`
	Locations        []*LocationResult `json:"locations,omitempty"`
	UpsertsAttempted int               `json:"upsertsAttempted"`
	UpsertsFailed    int               `json:"upsertsFailed"`
	New              int               `json:"new"`
	Changed          int               `json:"changed"`
	Unchanged        int               `json:"unchanged"`
	Dropped          int               `json:"dropped"`
	Archived         int               `json:"archived"` // new archive entries
	Retired          int               `json:"retired"`  // rows moved to ended by reconciliation
}

func (r *CycleResult) add(lr *LocationResult) {
	r.UpsertsAttempted += lr.UpsertsAttempted
	r.UpsertsFailed += lr.UpsertsFailed
	r.New += lr.New
	r.Changed += lr.Changed
	r.Unchanged += lr.Unchanged
	r.Dropped += lr.Dropped
	r.Archived += lr.Archived
}

// Status is the scheduler's externally visible state.
type Status struct {
	Running         bool         `json:"running"`
	CycleInProgress bool         `json:"cycleInProgress"`
	Halted          bool         `json:"halted"`
	HaltReason      string       `json:"haltReason,omitempty"`
	IntervalSeconds int          `json:"intervalSeconds"`
	Locations       []string     `json:"locations"`
	Cycles          int          `json:"cycles"`
	LastCycleAt     *time.Time   `json:"lastCycleAt,omitempty"`
	LastResult      *CycleResult `json:"lastResult,omitempty"`
}
