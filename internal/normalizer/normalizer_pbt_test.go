package normalizer

import (
	"fmt"
	"math"
	"regexp"
	"testing"

	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestProperty_ParsePriceNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsed prices are nil or non-negative", prop.ForAll(
		func(s string) bool {
			p := ParsePrice(s)
			return p == nil || *p >= 0
		},
		gen.AnyString(),
	))

	properties.Property("parsed prices are always finite", prop.ForAll(
		func(mantissa int64, exp int) bool {
			p := ParsePrice(fmt.Sprintf("%de%d", mantissa, exp))
			return p == nil || (!math.IsInf(*p, 0) && !math.IsNaN(*p))
		},
		gen.Int64Range(0, 1_000_000),
		gen.IntRange(-1000, 1000),
	))

	properties.Property("formatted non-negative amounts round trip", prop.ForAll(
		func(cents int64) bool {
			text := fmt.Sprintf("$%d.%02d", cents/100, cents%100)
			p := ParsePrice(text)
			return p != nil && *p == float64(cents)/100
		},
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("negative amounts are rejected", prop.ForAll(
		func(cents int64) bool {
			return ParsePrice(fmt.Sprintf("-%d.%02d", cents/100, cents%100)) == nil
		},
		gen.Int64Range(1, 10_000_000),
	))

	properties.TestingRun(t)
}

func TestProperty_HashDomDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("same snippet, same 12-char hex digest", prop.ForAll(
		func(itemID, auctionID string, locIdx int) bool {
			raw := &models.RawItem{
				ID:        models.FlexText(itemID),
				AuctionID: models.FlexText(auctionID),
				EndDate:   "1767225600",
			}
			loc := types.Locations[locIdx]
			a, errA := HashDom(StableSnippetOf(raw, loc))
			b, errB := HashDom(StableSnippetOf(raw, loc))
			return errA == nil && errB == nil && a == b && hexDigest.MatchString(a)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, len(types.Locations)-1),
	))

	properties.Property("bid changes never move the hash", prop.ForAll(
		func(bidA, bidB float64) bool {
			a := &models.RawItem{ID: "1", AuctionID: "A", CurrentBid: models.FlexText(fmt.Sprint(bidA))}
			b := &models.RawItem{ID: "1", AuctionID: "A", CurrentBid: models.FlexText(fmt.Sprint(bidB))}
			ha, _ := HashDom(StableSnippetOf(a, types.Locations[0]))
			hb, _ := HashDom(StableSnippetOf(b, types.Locations[0]))
			return ha == hb
		},
		gen.Float64Range(0, 1e6),
		gen.Float64Range(0, 1e6),
	))

	properties.TestingRun(t)
}

func TestProperty_KeyStability(t *testing.T) {
	properties := gopter.NewProperties(nil)
	n := newTestNormalizer()

	properties.Property("same upstream id and location resolve to the same key", prop.ForAll(
		func(id string, bidA, bidB int) bool {
			a := rawChair()
			a.ID = models.FlexText(id)
			a.CurrentBid = models.FlexText(fmt.Sprint(bidA))
			b := rawChair()
			b.ID = models.FlexText(id)
			b.CurrentBid = models.FlexText(fmt.Sprint(bidB))
			b.Title = "different title"

			ra, errA := n.Normalize(a)
			rb, errB := n.Normalize(b)
			if errA != nil || errB != nil {
				return false
			}
			return ra.ItemID == rb.ItemID && ra.LocationName == rb.LocationName
		},
		gen.Identifier(),
		gen.IntRange(0, 500),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
