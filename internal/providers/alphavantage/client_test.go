package alphavantage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dailyPayload = `{
	"Meta Data": {"2. Symbol": "TEST"},
	"Time Series (Daily)": {
		"2024-01-05": {"1. open": "103", "2. high": "104", "3. low": "101", "4. close": "101.00", "5. volume": "900"},
		"2024-01-02": {"1. open": "100", "2. high": "101", "3. low": "99", "4. close": "100.00", "5. volume": "1000"},
		"2024-01-03": {"1. open": "100", "2. high": "103", "3. low": "100", "4. close": "102.50", "5. volume": "1200"},
		"2024-01-04": {"1. open": "102", "2. high": "104", "3. low": "101", "4. close": "103.00", "5. volume": "1100"}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:         server.URL,
		APIKey:          "demo",
		RateLimitPerMin: 6000, // don't throttle tests
	})
}

func TestDailyClosesSortedAndFiltered(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "TEST", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, dailyPayload)
	})

	closes, err := client.DailyCloses(context.Background(), "TEST", "", "")
	require.NoError(t, err)
	require.Len(t, closes, 4)
	assert.Equal(t, "2024-01-02", closes[0].Date, "closes must be oldest first")
	assert.Equal(t, "2024-01-05", closes[3].Date)

	ranged, err := client.DailyCloses(context.Background(), "TEST", "2024-01-03", "2024-01-04")
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, 102.5, ranged[0].Close)
}

func TestDirections(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dailyPayload)
	})

	obs, labels, err := client.Directions(context.Background(), "TEST", "", "")
	require.NoError(t, err)
	// 100 -> 102.5 -> 103 -> 101: up, up, down.
	assert.Equal(t, []int{1, 1, 0}, obs)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04", "2024-01-05"}, labels)
}

func TestDirectionsNeedsTwoCloses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dailyPayload)
	})

	_, _, err := client.Directions(context.Background(), "TEST", "2024-01-02", "2024-01-02")
	assert.Error(t, err)
}

func TestInBandAPIErrors(t *testing.T) {
	cases := map[string]string{
		"unknown symbol": `{"Error Message": "Invalid API call"}`,
		"budget note":    `{"Note": "Thank you for using Alpha Vantage! 5 calls per minute"}`,
		"empty series":   `{"Time Series (Daily)": {}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, payload)
			})
			_, err := client.DailyCloses(context.Background(), "NOPE", "", "")
			assert.Error(t, err)
		})
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, err := client.DailyCloses(context.Background(), "TEST", "", "")
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:         server.URL,
		APIKey:          "demo",
		RateLimitPerMin: 6000,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	})

	for i := 0; i < 5; i++ {
		_, err := client.DailyCloses(context.Background(), "TEST", "", "")
		require.Error(t, err)
	}
	assert.Equal(t, 2, requests, "breaker must stop forwarding after the failure threshold")
}

// memoryCache is a plain in-process CloseCache for tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]Daily
}

func (m *memoryCache) Get(symbol string) ([]Daily, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closes, ok := m.entries[symbol]
	return closes, ok
}

func (m *memoryCache) Set(symbol string, closes []Daily) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]Daily)
	}
	m.entries[symbol] = closes
}

func TestCacheAvoidsRepeatFetches(t *testing.T) {
	var requests int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, dailyPayload)
	})
	client.SetCache(&memoryCache{})

	for i := 0; i < 3; i++ {
		_, err := client.DailyCloses(context.Background(), "TEST", "", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, requests, "repeat scans must be served from cache")
}
