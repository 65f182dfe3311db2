// Package notifier delivers rule matches to interested consumers.
package notifier

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

// Match is one rule hit handed to a Notifier.
type Match struct {
	RuleID    string             `json:"ruleId"`
	RuleName  string             `json:"ruleName"`
	Item      *models.ItemRecord `json:"item"`
	MatchedAt time.Time          `json:"matchedAt"`
	IsNew     bool               `json:"isNew"` // first time this rule matched the item
}

// Notifier receives matches. Implementations must be safe for concurrent use;
// callers treat delivery as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, m Match) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, m Match) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, m Match) error {
	return f(ctx, m)
}

// LogNotifier writes new matches to the structured log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log notifier; nil uses the global logger.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogNotifier{logger: logger.WithComponent("notifier")}
}

// Notify logs the match. Refreshes of an existing match are logged at debug.
func (n *LogNotifier) Notify(ctx context.Context, m Match) error {
	fields := map[string]interface{}{
		"ruleId":   m.RuleID,
		"ruleName": m.RuleName,
	}
	if m.Item != nil {
		fields["itemId"] = m.Item.ItemID
		fields["location"] = m.Item.LocationName
		fields["sourceUrl"] = m.Item.SourceURL
		if m.Item.CurrentBid != nil {
			fields["currentBid"] = *m.Item.CurrentBid
		}
	}
	entry := n.logger.WithFields(fields)
	if m.IsNew {
		entry.Info("Rule matched new item")
	} else {
		entry.Debug("Rule match refreshed")
	}
	return nil
}

// Default feed settings.
const (
	DefaultFeedKey    = "auction-scanner:matches"
	DefaultFeedMaxLen = 1000
)

// RedisNotifier pushes new matches as JSON onto a capped Redis list, newest
// first, for consumers that poll the feed.
type RedisNotifier struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisNotifier creates a feed notifier on client
func NewRedisNotifier(client *redis.Client, key string, maxLen int) *RedisNotifier {
	if key == "" {
		key = DefaultFeedKey
	}
	if maxLen <= 0 {
		maxLen = DefaultFeedMaxLen
	}
	return &RedisNotifier{client: client, key: key, maxLen: int64(maxLen)}
}

// Notify pushes m when it is a new match; refreshes are not re-published.
func (n *RedisNotifier) Notify(ctx context.Context, m Match) error {
	if !m.IsNew {
		return nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode match: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, n.key, payload)
	pipe.LTrim(ctx, n.key, 0, n.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish match: %w", err)
	}
	return nil
}

// Recent returns up to limit matches from the feed, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}
	raw, err := n.client.LRange(ctx, n.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read match feed: %w", err)
	}
	out := make([]Match, 0, len(raw))
	for _, entry := range raw {
		var m Match
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Multi fans a match out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers m to every notifier, even after one fails.
func (ms Multi) Notify(ctx context.Context, m Match) error {
	var errs []error
	for _, n := range ms {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
