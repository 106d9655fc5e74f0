package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// DefaultTimeout is the per-request timeout applied to API calls.
const DefaultTimeout = 30 * time.Second

// MaxRetries is the number of retry attempts for transient errors.
const MaxRetries = 3

// ClientConfig holds optional configuration for the bar API client.
type ClientConfig struct {
	// Timeout per HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries for transient errors. Zero means the package default.
	MaxRetries int

	// Logger for debug/info output. Nil uses slog.Default().
	Logger *slog.Logger

	// EnableCache enables in-memory caching of responses.
	EnableCache bool
}

// Client fetches OHLCV bars from a bar-serving HTTP API. Fetching through
// the API keeps this service away from market-data credentials and
// ingestion schema details.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
	cacheOn bool
}

var _ Provider = (*Client)(nil)

type cacheEntry struct {
	bars      []types.Bar
	fetchedAt time.Time
}

// NewClient creates a bar API client. baseURL includes scheme and host,
// e.g. "http://localhost:8000". A nil config uses defaults.
func NewClient(baseURL string, cfg *ClientConfig) *Client {
	timeout := DefaultTimeout
	retries := MaxRetries
	logger := slog.Default()
	enableCache := false

	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			retries = cfg.MaxRetries
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		enableCache = cfg.EnableCache
	}

	logger.Info("Bar API client initialised",
		"base_url", baseURL,
		"timeout", timeout,
		"max_retries", retries,
		"cache", enableCache,
	)

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		logger:     logger,
		cache:      make(map[string]cacheEntry),
		cacheOn:    enableCache,
	}
}

type barsResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []barPayload `json:"bars"`
}

type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// Bars fetches OHLCV bars for one partition. Results are cached in
// memory (if enabled) so repeated replays of the same window do not hit
// the network again.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Bar, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s|%s", symbol, timeframe,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	if c.cacheOn {
		c.cacheMu.RLock()
		entry, ok := c.cache[cacheKey]
		c.cacheMu.RUnlock()
		if ok {
			c.logger.Debug("Cache hit for bars", "key", cacheKey)
			return entry.bars, nil
		}
	}

	params := url.Values{
		"symbol":          {symbol},
		"timeframe":       {timeframe},
		"start_timestamp": {start.Format(time.RFC3339)},
		"end_timestamp":   {end.Format(time.RFC3339)},
	}

	c.logger.Debug("Fetching bars", "symbol", symbol, "timeframe", timeframe)

	body, err := c.doGet(ctx, "/api/bars", params)
	if err != nil {
		return nil, fmt.Errorf("Bars: %w", err)
	}

	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("Bars: decoding response: %w", err)
	}

	bars := make([]types.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, err := parseTimestamp(b.Timestamp)
		if err != nil {
			c.logger.Warn("Skipping bar with unparseable timestamp", "ts", b.Timestamp, "err", err)
			continue
		}
		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	if c.cacheOn {
		c.cacheMu.Lock()
		c.cache[cacheKey] = cacheEntry{bars: bars, fetchedAt: time.Now()}
		c.cacheMu.Unlock()
	}

	c.logger.Info("Fetched bars", "symbol", symbol, "timeframe", timeframe, "count", len(bars))
	return bars, nil
}

// ClearCache removes all cached entries.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.cacheMu.Unlock()
	c.logger.Debug("Cache cleared")
}

// doGet executes a GET request with retries and exponential backoff.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			c.logger.Debug("Retrying request",
				"attempt", attempt, "backoff", backoff, "url", u,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn("HTTP request failed", "url", u, "attempt", attempt, "err", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response body: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == 400 || resp.StatusCode == 404:
			var apiErr apiError
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
				return nil, fmt.Errorf("request rejected: %s", apiErr.Detail)
			}
			return nil, fmt.Errorf("request rejected (status %d)", resp.StatusCode)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (status %d)", resp.StatusCode)
			c.logger.Warn("Server error, will retry",
				"status", resp.StatusCode, "attempt", attempt,
			)
			continue
		default:
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("all %d retries exhausted: %w", c.maxRetries, lastErr)
}
