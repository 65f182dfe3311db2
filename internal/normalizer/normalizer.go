// Package normalizer turns upstream marketplace records into canonical
// ItemRecords and classifies re-fetches against the stored row.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
)

// Normalizer converts RawItems into ItemRecords.
type Normalizer struct {
	// SiteBaseURL is the public marketplace origin used for source_url.
	SiteBaseURL string
	// Now is the clock used for status derivation and fetched_at; nil means time.Now.
	Now func() time.Time
}

// New creates a normalizer for the given public site origin.
func New(siteBaseURL string) *Normalizer {
	return &Normalizer{SiteBaseURL: strings.TrimRight(siteBaseURL, "/")}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC()
	}
	return time.Now().UTC()
}

// Normalize maps raw onto an ItemRecord. Missing optional fields become nil.
// It fails with a MalformedRecordError when the upstream id or auction id is
// missing, and with an UnknownLocationError when the location is not in the
// canonical whitelist.
func (n *Normalizer) Normalize(raw *models.RawItem) (*models.ItemRecord, error) {
	if raw == nil {
		return nil, errors.NewMalformedRecordError("nil raw item", nil)
	}

	itemID := strings.TrimSpace(raw.ID.String())
	if itemID == "" {
		return nil, errors.NewMalformedRecordError("missing upstream item id", map[string]interface{}{
			"title": raw.Title,
		})
	}

	loc, err := resolveLocation(raw)
	if err != nil {
		return nil, err
	}

	auctionID := strings.TrimSpace(raw.AuctionID.String())
	if auctionID == "" {
		return nil, errors.NewMalformedRecordError("missing auction id", map[string]interface{}{
			"itemId": itemID,
		})
	}

	now := n.now()
	endDate := ParseEndDate(raw.EndDate.String())

	itemIDText := raw.LotCode
	if itemIDText == "" {
		itemIDText = raw.ID.String()
	}

	rec := &models.ItemRecord{
		ItemID:         itemID,
		LocationName:   loc.Name,
		AuctionID:      models.StringPtr(auctionID),
		Title:          models.StringPtr(strings.TrimSpace(raw.Title)),
		Description:    models.StringPtr(strings.TrimSpace(raw.Description)),
		Condition:      models.StringPtr(strings.TrimSpace(raw.Condition)),
		ImageURL:       models.StringPtr(strings.TrimSpace(raw.ImageURL)),
		MSRP:           ParsePrice(raw.MSRP.String()),
		CurrentBid:     ParsePrice(raw.CurrentBid.String()),
		EndDate:        endDate,
		Status:         DeriveStatus(raw.Closed, endDate, now),
		SourceURL:      n.SourceURL(auctionID, itemID),
		FetchedAt:      now,
		MSRPText:       raw.MSRP.String(),
		CurrentBidText: raw.CurrentBid.String(),
		LocationText:   raw.LocationName,
		ItemIDText:     itemIDText,
	}

	hash, err := HashDom(StableSnippetOf(raw, loc))
	if err != nil {
		return nil, errors.NewMalformedRecordError("hashing stable fields failed", map[string]interface{}{
			"itemId": itemID,
			"error":  err.Error(),
		})
	}
	rec.DomHash = hash

	return rec, nil
}

// SourceURL builds the public detail page URL from auction and item ids.
func (n *Normalizer) SourceURL(auctionID, itemID string) string {
	return fmt.Sprintf("%s/%s/item-detail/%s", strings.TrimRight(n.SiteBaseURL, "/"), auctionID, itemID)
}

// resolveLocation maps the raw location string onto the whitelist. The
// upstream numeric location id is only consulted when no name was sent.
func resolveLocation(raw *models.RawItem) (types.CanonicalLocation, error) {
	if strings.TrimSpace(raw.LocationName) != "" {
		loc, ok := types.LookupLocation(raw.LocationName)
		if !ok {
			return types.CanonicalLocation{}, errors.NewUnknownLocationError(raw.LocationName)
		}
		return loc, nil
	}

	if id, err := strconv.Atoi(strings.TrimSpace(raw.LocationID.String())); err == nil {
		if loc, ok := types.LocationByUpstreamID(id); ok {
			return loc, nil
		}
	}
	return types.CanonicalLocation{}, errors.NewUnknownLocationError(raw.LocationID.String())
}

// DeriveStatus applies the tri-state rule: closed means ended, a future end
// date means active, anything else is unknown. A past or missing end date
// alone never yields ended here; reconciliation owns that transition.
func DeriveStatus(closed bool, endDate *time.Time, now time.Time) types.ItemStatus {
	switch {
	case closed:
		return types.StatusEnded
	case endDate != nil && endDate.After(now):
		return types.StatusActive
	default:
		return types.StatusUnknown
	}
}

var endDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseEndDate accepts RFC3339 (with or without zone), a plain date, or unix
// seconds/milliseconds. Anything else is unknown (nil).
func ParseEndDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if secs, err := strconv.ParseInt(text, 10, 64); err == nil {
		if secs <= 0 {
			return nil
		}
		var t time.Time
		if secs > 1e12 {
			t = time.UnixMilli(secs).UTC()
		} else {
			t = time.Unix(secs, 0).UTC()
		}
		return &t
	}

	for _, layout := range endDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
