package models

import "time"

// CrawlerRule is a user-defined persistent filter checked on its own timer.
type CrawlerRule struct {
	ID                   string     `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	SearchQuery          string     `json:"searchQuery" db:"search_query"`
	Locations            []string   `json:"locations" db:"locations"` // empty means every location
	MaxBidPrice          float64    `json:"maxBidPrice" db:"max_bid_price"`
	MaxTimeLeftMinutes   float64    `json:"maxTimeLeftMinutes" db:"max_time_left_minutes"` // 0 means no upper bound
	CheckIntervalMinutes float64    `json:"checkIntervalMinutes" db:"check_interval_minutes"`
	IsActive             bool       `json:"isActive" db:"is_active"`
	LastChecked          *time.Time `json:"lastChecked,omitempty" db:"last_checked"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time  `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy of the rule
func (r *CrawlerRule) Clone() *CrawlerRule {
	if r == nil {
		return nil
	}
	c := *r
	c.Locations = append([]string(nil), r.Locations...)
	if r.LastChecked != nil {
		t := *r.LastChecked
		c.LastChecked = &t
	}
	return &c
}

// StoredResult is one deduplicated (rule, item) match held in the results buffer.
type StoredResult struct {
	RuleID    string      `json:"ruleId"`
	RuleName  string      `json:"ruleName"`
	ItemID    string      `json:"itemId"`
	Item      *ItemRecord `json:"item"`
	MatchedAt time.Time   `json:"matchedAt"`
	IsTracked bool        `json:"isTracked"`
	IsWatched bool        `json:"isWatched"`
}

// ResultFlags is a partial update of a stored result's user flags.
type ResultFlags struct {
	IsTracked *bool `json:"isTracked,omitempty"`
	IsWatched *bool `json:"isWatched,omitempty"`
}
