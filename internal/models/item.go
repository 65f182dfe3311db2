// Package models provides data models for the auction scanner.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auction-scanner/internal/types"
)

// FlexText holds an upstream scalar that may arrive as a JSON string, a
// number or null. Numbers keep their literal text so nothing is rounded
// before parsing.
type FlexText string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (f *FlexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexText(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return fmt.Errorf("expected scalar, got %s", data)
	}
	*f = FlexText(data)
	return nil
}

// String returns the raw text
func (f FlexText) String() string { return string(f) }

// RawItem is one upstream item record as returned by the marketplace search endpoint.
type RawItem struct {
	ID           FlexText `json:"id"`
	AuctionID    FlexText `json:"auctionId"`
	LotCode      string   `json:"lotCode,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	MSRP         FlexText `json:"msrp,omitempty"`
	CurrentBid   FlexText `json:"currentBid,omitempty"`
	EndDate      FlexText `json:"endDate,omitempty"` // RFC3339 or unix seconds
	LocationName string   `json:"locationName,omitempty"`
	LocationID   FlexText `json:"locationId,omitempty"`
	Closed       bool     `json:"closed,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty"`
}

// ItemRecord is one indexed row, keyed by (ItemID, LocationName).
// Nullable columns are pointers; nil means unknown, never zero.
type ItemRecord struct {
	ItemID       string           `json:"itemId" db:"item_id"`
	LocationName string           `json:"locationName" db:"location_name"`
	AuctionID    *string          `json:"auctionId,omitempty" db:"auction_id"`
	Title        *string          `json:"title,omitempty" db:"title"`
	Description  *string          `json:"description,omitempty" db:"description"`
	Condition    *string          `json:"condition,omitempty" db:"condition"`
	ImageURL     *string          `json:"imageUrl,omitempty" db:"image_url"`
	MSRP         *float64         `json:"msrp" db:"msrp"`
	CurrentBid   *float64         `json:"currentBid" db:"current_bid"`
	EndDate      *time.Time       `json:"endDate" db:"end_date"`
	Status       types.ItemStatus `json:"status" db:"status"`
	SourceURL    string           `json:"sourceUrl" db:"source_url"`
	FetchedAt    time.Time        `json:"fetchedAt" db:"fetched_at"`
	DomHash      string           `json:"domHash" db:"dom_hash"`

	// raw echoes kept for auditing the parsers
	MSRPText       string `json:"msrpText,omitempty" db:"msrp_text"`
	CurrentBidText string `json:"currentBidText,omitempty" db:"current_bid_text"`
	LocationText   string `json:"locationText,omitempty" db:"location_text"`
	ItemIDText     string `json:"itemIdText,omitempty" db:"item_id_text"`
}

// TimeLeft returns the time until EndDate, or false when the end date is unknown.
func (r *ItemRecord) TimeLeft(now time.Time) (time.Duration, bool) {
	if r.EndDate == nil {
		return 0, false
	}
	return r.EndDate.Sub(now), true
}

// Clone returns a deep copy so callers can hold snapshots safely.
func (r *ItemRecord) Clone() *ItemRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.AuctionID = cloneString(r.AuctionID)
	c.Title = cloneString(r.Title)
	c.Description = cloneString(r.Description)
	c.Condition = cloneString(r.Condition)
	c.ImageURL = cloneString(r.ImageURL)
	c.MSRP = cloneFloat(r.MSRP)
	c.CurrentBid = cloneFloat(r.CurrentBid)
	if r.EndDate != nil {
		t := *r.EndDate
		c.EndDate = &t
	}
	return &c
}

// EndedAuctionItem is the archived snapshot of an item whose end date passed.
type EndedAuctionItem struct {
	ItemRecord
	EndedAt    time.Time `json:"endedAt" db:"ended_at"`
	FinalPrice *float64  `json:"finalPrice" db:"final_price"`
}

// NewEndedAuctionItem snapshots rec at the moment the end was detected.
func NewEndedAuctionItem(rec *ItemRecord, endedAt time.Time) *EndedAuctionItem {
	snap := rec.Clone()
	snap.Status = types.StatusEnded
	return &EndedAuctionItem{
		ItemRecord: *snap,
		EndedAt:    endedAt,
		FinalPrice: cloneFloat(rec.CurrentBid),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// StringPtr returns a pointer to s, or nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float64Ptr returns a pointer to f
func Float64Ptr(f float64) *float64 {
	return &f
}
