package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/redis/go-redis/v9"
)

// DefaultCachePrefix namespaces the search cache keys
const DefaultCachePrefix = "auction-scanner:cache"

// CachedStore is a read-through Redis cache in front of a Store. Search and
// ending-soon reads are cached for ttl under the current generation; every
// write bumps the generation so later reads miss. Redis failures fall
// through to the wrapped store.
type CachedStore struct {
	Store
	redis  redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

// NewCachedStore wraps store. A non-positive ttl returns store unchanged.
func NewCachedStore(store Store, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) Store {
	if ttl <= 0 || client == nil {
		return store
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CachedStore{
		Store:  store,
		redis:  client,
		ttl:    ttl,
		prefix: DefaultCachePrefix,
		logger: logger.WithComponent("search_cache"),
	}
}

func (c *CachedStore) generationKey() string {
	return c.prefix + ":gen"
}

// generateCacheKey builds <prefix>:<generation>:<kind>:<params...>
func (c *CachedStore) generateCacheKey(ctx context.Context, kind string, params ...string) (string, error) {
	gen, err := c.redis.Get(ctx, c.generationKey()).Int64()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return "", err
	}
	parts := append([]string{c.prefix, strconv.FormatInt(gen, 10), kind}, params...)
	return strings.Join(parts, ":"), nil
}

func (c *CachedStore) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			c.logger.WithError(err).Debug("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.WithError(err).Warn("Discarding undecodable cache entry")
		return false
	}
	return true
}

func (c *CachedStore) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Cache write failed")
	}
}

// invalidate bumps the generation, orphaning every cached read.
func (c *CachedStore) invalidate(ctx context.Context) {
	if err := c.redis.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.WithError(err).Warn("Cache invalidation failed")
	}
}

func floatParam(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// SearchItems serves a cached page when one exists for the same filter
func (c *CachedStore) SearchItems(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	f := filter.Normalized()
	// the query matches case-insensitively, the location exactly
	key, err := c.generateCacheKey(ctx, "search", strings.ToLower(f.Query), f.Location, floatParam(f.MinBid), floatParam(f.MaxBid),
		strconv.Itoa(f.Page), strconv.Itoa(f.Limit))
	if err != nil {
		return c.Store.SearchItems(ctx, filter)
	}

	var cached SearchResult
	if c.get(ctx, key, &cached) {
		return &cached, nil
	}
	result, err := c.Store.SearchItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, result)
	return result, nil
}

// GetItemsEndingSoon serves a cached list when one exists for the window.
// The window is relative to now, so entries only live for the cache ttl.
func (c *CachedStore) GetItemsEndingSoon(ctx context.Context, hours int) ([]*models.ItemRecord, error) {
	key, err := c.generateCacheKey(ctx, "ending", strconv.Itoa(hours))
	if err != nil {
		return c.Store.GetItemsEndingSoon(ctx, hours)
	}

	var cached []*models.ItemRecord
	if c.get(ctx, key, &cached) {
		return cached, nil
	}
	items, err := c.Store.GetItemsEndingSoon(ctx, hours)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, items)
	return items, nil
}

// UpsertItem writes through and invalidates
func (c *CachedStore) UpsertItem(ctx context.Context, rec *models.ItemRecord) error {
	if err := c.Store.UpsertItem(ctx, rec); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// UpdateItemStatus writes through and invalidates
func (c *CachedStore) UpdateItemStatus(ctx context.Context, itemID, locationName string, status types.ItemStatus) error {
	if err := c.Store.UpdateItemStatus(ctx, itemID, locationName, status); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// ArchiveItem writes through and invalidates
func (c *CachedStore) ArchiveItem(ctx context.Context, rec *models.ItemRecord, endedAt time.Time) (bool, error) {
	inserted, err := c.Store.ArchiveItem(ctx, rec, endedAt)
	if err != nil {
		return inserted, err
	}
	c.invalidate(ctx)
	return inserted, nil
}

// String describes the cache for startup logs
func (c *CachedStore) String() string {
	return fmt.Sprintf("redis search cache (ttl %s)", c.ttl)
}
