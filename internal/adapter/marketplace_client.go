package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/auction-scanner/internal/circuitbreaker"
	"github.com/auction-scanner/internal/config"
	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/ratelimit"
	"github.com/auction-scanner/internal/retry"
	"github.com/auction-scanner/internal/types"
	"github.com/go-resty/resty/v2"
)

const searchPath = "/items/search"

// MarketplaceClient fetches listing pages from the marketplace search API.
// Every request waits on the shared pacer, transient failures are retried
// with backoff, and a circuit breaker stops a failing upstream from being
// hammered for the rest of the cycle.
type MarketplaceClient struct {
	client   *resty.Client
	pageSize int
	query    string
	pacer    *ratelimit.Pacer
	retryCfg *retry.RetryConfig
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logging.Logger
}

// MarketplaceClientConfig configures a MarketplaceClient
type MarketplaceClientConfig struct {
	BaseURL        string
	UserAgent      string
	PageSize       int
	Query          string // optional free-text filter sent with every request
	RequestTimeout time.Duration
	Pacer          *ratelimit.Pacer
	Retry          *retry.RetryConfig
	Breaker        *circuitbreaker.Config
	Logger         *logging.Logger
}

// ConfigFromMarketplace builds a client config from the application config
func ConfigFromMarketplace(cfg *config.MarketplaceConfig, pacer *ratelimit.Pacer) *MarketplaceClientConfig {
	retryCfg := retry.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	return &MarketplaceClientConfig{
		BaseURL:        cfg.APIBaseURL,
		UserAgent:      cfg.UserAgent,
		PageSize:       cfg.PageSize,
		RequestTimeout: cfg.RequestTimeout,
		Pacer:          pacer,
		Retry:          retryCfg,
	}
}

// NewMarketplaceClient creates a new client
func NewMarketplaceClient(cfg *MarketplaceClientConfig) (*MarketplaceClient, error) {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.NewConfigurationError("marketplace base url", "is required")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.NewConfigurationError("page size", "must be positive")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig("marketplace")
	}
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = errors.IsTransient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &MarketplaceClient{
		client:   client,
		pageSize: cfg.PageSize,
		query:    cfg.Query,
		pacer:    cfg.Pacer,
		retryCfg: retryCfg,
		breaker:  circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger:   logger.WithComponent("marketplace_client"),
	}, nil
}

// PageSize returns the number of items requested per page
func (c *MarketplaceClient) PageSize() int {
	return c.pageSize
}

// BreakerState exposes the circuit breaker state for status reporting
func (c *MarketplaceClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// FetchPage fetches one page of listings for loc
func (c *MarketplaceClient) FetchPage(ctx context.Context, loc types.CanonicalLocation, page int) ([]models.RawItem, error) {
	var items []models.RawItem

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			var fetchErr error
			items, fetchErr = c.fetchOnce(ctx, loc, page)
			return fetchErr
		})
	})

	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, errors.NewTransientFetchError(loc.ID, page, err)
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *MarketplaceClient) fetchOnce(ctx context.Context, loc types.CanonicalLocation, page int) ([]models.RawItem, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		"page":       strconv.Itoa(page),
		"pageSize":   strconv.Itoa(c.pageSize),
		"locationId": strconv.Itoa(loc.UpstreamID),
	}
	if c.query != "" {
		params["query"] = c.query
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(searchPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTransientFetchError(loc.ID, page, err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests:
		if c.pacer != nil {
			c.pacer.OnThrottle()
		}
		c.logger.WithFields(map[string]interface{}{
			"location": loc.ID,
			"page":     page,
		}).Warn("Upstream throttled request, lowering request rate")
		return nil, errors.NewTransientFetchError(loc.ID, page, fmt.Errorf("status %d", status))
	case status >= 500:
		return nil, errors.NewTransientFetchError(loc.ID, page, fmt.Errorf("status %d", status))
	case status >= 400:
		return nil, errors.NewUpstreamError(loc.ID, page, status)
	}

	items, err := decodePage(resp.Body())
	if err != nil {
		return nil, errors.NewMalformedRecordError("undecodable search page", map[string]interface{}{
			"location": loc.ID,
			"page":     page,
			"error":    err.Error(),
		})
	}

	if c.pacer != nil {
		c.pacer.OnOK()
	}
	return items, nil
}

type searchEnvelope struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
}

// decodePage accepts either {"items": [...]} or a bare array. An entry that
// does not decode is kept as a zero RawItem so the page length still signals
// end-of-results; the normalizer rejects it as malformed.
func decodePage(body []byte) ([]models.RawItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []models.RawItem{}, nil
	}

	var entries []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, err
		}
	} else {
		var env searchEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		entries = env.Items
	}

	items := make([]models.RawItem, len(entries))
	for i, entry := range entries {
		if err := json.Unmarshal(entry, &items[i]); err != nil {
			items[i] = models.RawItem{}
		}
	}
	return items, nil
}
