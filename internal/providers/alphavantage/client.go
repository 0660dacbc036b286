// Package alphavantage wraps Alpha Vantage's TIME_SERIES_DAILY endpoint
// into the ordered binary direction-of-change series the MDL detector
// consumes. Requests are rate limited to the free-tier budget and run
// behind a circuit breaker so a flapping upstream fails fast instead of
// burning the daily quota.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client provides Alpha Vantage API access with rate limiting and
// circuit breaking.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      CloseCache
	metrics    MetricsCallback
}

// Config holds Alpha Vantage client configuration.
type Config struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration
	RateLimitPerMin int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// NewClient creates an Alpha Vantage client. Zero config fields fall
// back to free-tier defaults.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.alphavantage.co"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = 5 // free tier: 5 requests/minute
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerCooldown == 0 {
		config.BreakerCooldown = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "alphavantage",
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		limiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMin)/60.0), 1),
		breaker: breaker,
	}
}

// SetCache attaches a close cache consulted before upstream fetches.
func (c *Client) SetCache(cache CloseCache) {
	c.cache = cache
}

// SetMetricsCallback sets the metrics collection callback.
func (c *Client) SetMetricsCallback(callback MetricsCallback) {
	c.metrics = callback
}

// DailyCloses returns the closing prices for symbol within [start, end],
// oldest first. Dates are ISO YYYY-MM-DD strings; the range bounds are
// inclusive and may be empty to mean unbounded.
func (c *Client) DailyCloses(ctx context.Context, symbol, start, end string) ([]Daily, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}

	closes, ok := c.cachedCloses(symbol)
	if !ok {
		var err error
		closes, err = c.fetchDailyCloses(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(symbol, closes)
		}
	}

	// ISO dates compare lexicographically.
	filtered := make([]Daily, 0, len(closes))
	for _, d := range closes {
		if start != "" && d.Date < start {
			continue
		}
		if end != "" && d.Date > end {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered, nil
}

// Directions converts the closing prices in [start, end] into a binary
// direction-of-change series: 1 when a close is above the previous close,
// 0 otherwise. The returned labels are the dates of the later close of
// each pair, so labels[i] names the day observation i was realized and
// both slices have length len(closes)-1.
func (c *Client) Directions(ctx context.Context, symbol, start, end string) ([]int, []string, error) {
	closes, err := c.DailyCloses(ctx, symbol, start, end)
	if err != nil {
		return nil, nil, err
	}
	if len(closes) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 closes for symbol %s in range, got %d", symbol, len(closes))
	}

	obs := make([]int, 0, len(closes)-1)
	labels := make([]string, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		v := 0
		if closes[i].Close > closes[i-1].Close {
			v = 1
		}
		obs = append(obs, v)
		labels = append(labels, closes[i].Date)
	}
	return obs, labels, nil
}

func (c *Client) cachedCloses(symbol string) ([]Daily, bool) {
	if c.cache == nil {
		return nil, false
	}
	closes, ok := c.cache.Get(symbol)
	if ok && c.metrics != nil {
		c.metrics("alphavantage_cache_hits_total", 1, map[string]string{"symbol": symbol})
	}
	return closes, ok
}

func (c *Client) fetchDailyCloses(ctx context.Context, symbol string) ([]Daily, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", "full")
	params.Set("apikey", c.apiKey)
	requestURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.makeRequest(ctx, requestURL)
	})
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics("alphavantage_requests_total", 1,
			map[string]string{"endpoint": "TIME_SERIES_DAILY", "status": status})
		c.metrics("alphavantage_request_duration_ms", float64(time.Since(start).Milliseconds()),
			map[string]string{"endpoint": "TIME_SERIES_DAILY"})
	}
	if err != nil {
		return nil, err
	}

	return parseTimeSeries(result.([]byte), symbol)
}

func (c *Client) makeRequest(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func parseTimeSeries(body []byte, symbol string) ([]Daily, error) {
	var apiResp timeSeriesResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.ErrorMessage != "" {
		return nil, fmt.Errorf("API error for symbol %s: %s", symbol, apiResp.ErrorMessage)
	}
	if apiResp.Note != "" {
		return nil, fmt.Errorf("API request budget exhausted: %s", apiResp.Note)
	}
	if len(apiResp.Series) == 0 {
		return nil, fmt.Errorf("no daily data available for symbol %s", symbol)
	}

	closes := make([]Daily, 0, len(apiResp.Series))
	for date, bar := range apiResp.Series {
		closeVal, err := strconv.ParseFloat(bar.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("bad close %q on %s: %w", bar.Close, date, err)
		}
		closes = append(closes, Daily{Date: date, Close: closeVal})
	}
	sort.Slice(closes, func(i, j int) bool { return closes[i].Date < closes[j].Date })
	return closes, nil
}
