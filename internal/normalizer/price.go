package normalizer

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var priceNoise = strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "", " ", "", "\u00a0", "")

// ParsePrice parses currency text such as "$1,234.50" or "8.5". Empty,
// unparseable, negative and non-finite values are nil: a price is never guessed.
func ParsePrice(text string) *float64 {
	cleaned := priceNoise.Replace(strings.TrimSpace(text))
	if cleaned == "" || strings.ContainsAny(cleaned, "eE") {
		return nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return nil
	}

	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}
