// Package adapter provides upstream marketplace clients.
package adapter

import (
	"context"

	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
)

// Fetcher retrieves one page of raw listings for a location. Alternate fetch
// strategies plug in here instead of duplicating the indexer.
type Fetcher interface {
	// FetchPage returns the raw items of the 1-based page for loc. A page
	// shorter than PageSize (or empty) means there are no further pages.
	// Returns a TransientFetchError for timeouts, throttling and 5xx responses.
	FetchPage(ctx context.Context, loc types.CanonicalLocation, page int) ([]models.RawItem, error)

	// PageSize returns the number of items requested per page
	PageSize() int
}
