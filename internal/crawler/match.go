package crawler

import (
	"strings"
	"time"

	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
)

// MatchesRule reports whether item satisfies rule's location, price and time
// constraints at now. The search query is applied by the store, not here.
func MatchesRule(item *models.ItemRecord, rule *models.CrawlerRule, now time.Time) bool {
	if item == nil || rule == nil {
		return false
	}
	return matchesLocation(item, rule.Locations) &&
		matchesPrice(item, rule.MaxBidPrice) &&
		matchesTimeLeft(item, rule.MaxTimeLeftMinutes, now)
}

// matchesLocation is a case-insensitive substring test of each rule location's
// keyword against the item's location strings. No locations means all.
func matchesLocation(item *models.ItemRecord, locations []string) bool {
	if len(locations) == 0 {
		return true
	}
	haystacks := []string{strings.ToLower(item.LocationName)}
	if item.LocationText != "" {
		haystacks = append(haystacks, strings.ToLower(item.LocationText))
	}
	for _, id := range locations {
		keyword := types.LocationKeyword(id)
		if keyword == "" {
			continue
		}
		for _, h := range haystacks {
			if strings.Contains(h, keyword) {
				return true
			}
		}
	}
	return false
}

// matchesPrice excludes items without a known bid.
func matchesPrice(item *models.ItemRecord, maxBid float64) bool {
	return item.CurrentBid != nil && *item.CurrentBid <= maxBid
}

// matchesTimeLeft requires a known, not yet passed end date. A positive
// maxMinutes also caps how far away the end may be.
func matchesTimeLeft(item *models.ItemRecord, maxMinutes float64, now time.Time) bool {
	left, ok := item.TimeLeft(now)
	if !ok || left < 0 {
		return false
	}
	if maxMinutes > 0 && left.Minutes() > maxMinutes {
		return false
	}
	return true
}
