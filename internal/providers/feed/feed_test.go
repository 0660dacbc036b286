package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T, interval time.Duration) (*Feed, *[]Observation) {
	t.Helper()
	var got []Observation
	f, err := New(Config{
		URL:      "wss://example.invalid/ws",
		Pair:     "BTC/USD",
		Interval: interval,
	}, func(obs Observation) {
		got = append(got, obs)
	})
	require.NoError(t, err)
	return f, &got
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Pair: "BTC/USD"}, nil)
	assert.Error(t, err, "URL is required")

	_, err = New(Config{URL: "wss://example.invalid"}, nil)
	assert.Error(t, err, "pair is required")
}

func TestTickBucketsEmitDirections(t *testing.T) {
	f, got := newTestFeed(t, time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)

	f.Tick(100, base)                      // interval 1
	f.Tick(101, base.Add(20*time.Second))  // interval 1, close 101
	f.Tick(103, base.Add(70*time.Second))  // interval 2, close 103
	f.Tick(102, base.Add(130*time.Second)) // interval 3, close 102
	f.Tick(99, base.Add(190*time.Second))  // interval 4 begins, closes interval 3

	// First interval only seeds the previous close; the next two
	// boundary crossings compare against it.
	require.Len(t, *got, 2)
	assert.Equal(t, 1, (*got)[0].Direction, "103 > 101")
	assert.Equal(t, 0, (*got)[1].Direction, "102 < 103")
}

func TestTickLabelsAreIntervalCloseTimes(t *testing.T) {
	f, got := newTestFeed(t, time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)

	f.Tick(100, base)
	f.Tick(101, base.Add(time.Minute))
	f.Tick(102, base.Add(2*time.Minute))

	require.Len(t, *got, 1)
	assert.Equal(t, "2024-03-01T12:02:00Z", (*got)[0].Label)
}

func TestEmptyIntervalsCarryCloseForward(t *testing.T) {
	f, got := newTestFeed(t, time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)

	f.Tick(100, base)
	// Three intervals elapse with no ticks in between.
	f.Tick(100, base.Add(3*time.Minute))

	require.Len(t, *got, 2, "every crossed boundary after the seed emits")
	for _, obs := range *got {
		assert.Equal(t, 0, obs.Direction, "carried-forward close never moves up")
	}
}

func TestNoEmissionBeforeFirstTick(t *testing.T) {
	f, got := newTestFeed(t, time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)

	f.Tick(100, base)
	assert.Empty(t, *got)
}

// TestConsumeEmitsObservationsFromTradeStream replays genuine exchange
// payloads through the wire path: the object-form event envelopes must
// be skipped and the array-form trade channel messages must reach the
// bucketer, stamped with the exchange-reported trade times.
func TestConsumeEmitsObservationsFromTradeStream(t *testing.T) {
	replay := []string{
		`{"event":"systemStatus","connectionID":8628615390848610000,"status":"online","version":"1.9.0"}`,
		`{"channelID":337,"channelName":"trade","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed","subscription":{"name":"trade"}}`,
		`{"event":"heartbeat"}`,
		`[337,[["100.00000","0.10000000","1709294410.123456","b","l",""]],"trade","XBT/USD"]`,
		`[337,[["101.00000","0.05000000","1709294430.500000","s","m",""]],"trade","XBT/USD"]`,
		`[337,[["103.00000","0.20000000","1709294480.000000","b","l",""]],"trade","XBT/USD"]`,
		`[337,[["102.00000","0.10000000","1709294540.250000","s","l",""]],"trade","XBT/USD"]`,
		`[337,[["99.00000","0.10000000","1709294600.750000","b","l",""]],"trade","XBT/USD"]`,
	}

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		// The first client frame is the trade subscription.
		_, sub, err := conn.ReadMessage()
		if !assert.NoError(t, err) {
			return
		}
		assert.Contains(t, string(sub), `"subscribe"`)
		assert.Contains(t, string(sub), `"XBT/USD"`)

		for _, msg := range replay {
			if !assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg))) {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	var got []Observation
	f, err := New(Config{
		URL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		Pair:     "XBT/USD",
		Interval: time.Minute,
	}, func(obs Observation) { got = append(got, obs) })
	require.NoError(t, err)

	// consume returns once the server closes the connection after the
	// replay has been delivered.
	err = f.consume(context.Background())
	require.Error(t, err)

	// 100 and 101 fill the first interval (seed only), 103 closes it,
	// then 102 and 99 close the next two: up, then down.
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Direction, "103 > 101")
	assert.Equal(t, 0, got[1].Direction, "102 < 103")
	assert.Equal(t, time.Unix(1709294520, 0).UTC().Format(time.RFC3339), got[0].Label)
	assert.Equal(t, time.Unix(1709294580, 0).UTC().Format(time.RFC3339), got[1].Label)
}

func TestHandleMessageIgnoresNonTradePayloads(t *testing.T) {
	f, got := newTestFeed(t, time.Minute)
	for _, payload := range []string{
		`{"event":"heartbeat"}`,
		`{"event":"systemStatus","status":"online"}`,
		`[2,{"as":[["100","1","1709294410.0"]]},"book-10","XBT/USD"]`,
		`[337,[["not-a-price","0.1","1709294410.0","b","l",""]],"trade","XBT/USD"]`,
		`[337,[["100.0","0.1","not-a-time","b","l",""]],"trade","XBT/USD"]`,
		`[337]`,
		`not json`,
	} {
		f.handleMessage([]byte(payload))
	}
	assert.Empty(t, *got, "only well-formed trade channel messages may tick")
	assert.False(t, f.haveTick)
}

func TestHandleMessageTicksFromTradeBatch(t *testing.T) {
	f, _ := newTestFeed(t, time.Minute)
	f.handleMessage([]byte(`[337,[["100.5","0.1","1709294410.123456","b","l",""],["100.75","0.2","1709294411.000000","s","m",""]],"trade","XBT/USD"]`))
	assert.True(t, f.haveTick)
	assert.Equal(t, 100.75, f.lastPrice, "the batch's last trade is the running price")
}
