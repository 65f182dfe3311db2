package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
)

// DomHashLength is the number of hex characters kept from the digest.
const DomHashLength = 12

// StableSnippet is the subset of a raw record that identifies a listing
// version. The current bid is deliberately absent: bid moves are compared
// separately in Classify.
type StableSnippet struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
	AuctionID  string `json:"auction_id"`
	EndDate    string `json:"end_date"`
}

// StableSnippetOf extracts the stable subset of raw for the given canonical location.
func StableSnippetOf(raw *models.RawItem, loc types.CanonicalLocation) StableSnippet {
	endDate := ""
	if t := ParseEndDate(raw.EndDate.String()); t != nil {
		endDate = t.Format("2006-01-02T15:04:05Z07:00")
	}
	return StableSnippet{
		ItemID:     strings.TrimSpace(raw.ID.String()),
		LocationID: loc.ID,
		AuctionID:  strings.TrimSpace(raw.AuctionID.String()),
		EndDate:    endDate,
	}
}

// HashDom returns the first DomHashLength hex chars of sha256 over the JSON
// encoding of snippet.
func HashDom(snippet interface{}) (string, error) {
	payload, err := json.Marshal(snippet)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:DomHashLength], nil
}

// Classify compares a freshly normalized record with the stored row for the
// same key. It only feeds logging and counters; upserts run regardless.
func Classify(existing, fresh *models.ItemRecord) types.ChangeKind {
	if existing == nil {
		return types.ChangeNew
	}
	if existing.DomHash != fresh.DomHash || !sameBid(existing.CurrentBid, fresh.CurrentBid) {
		return types.ChangeChanged
	}
	return types.ChangeUnchanged
}

func sameBid(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
