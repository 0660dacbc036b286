// Package feed turns a live trade websocket into the binary
// direction-of-change observations an incremental MDL session consumes.
// Ticks are bucketed into fixed intervals; each completed interval emits
// 1 when its last price is above the previous interval's, 0 otherwise.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Observation is one completed interval: a binary direction plus the
// interval close time used as its label.
type Observation struct {
	Direction int
	Label     string
}

// Handler receives each completed observation in order.
type Handler func(Observation)

// Config tunes the feed.
type Config struct {
	URL              string
	Pair             string
	Interval         time.Duration
	HandshakeTimeout time.Duration
	ReconnectBackoff time.Duration
}

// Feed consumes a trade stream and reduces it to direction observations.
type Feed struct {
	config  Config
	handler Handler

	mu        sync.Mutex
	lastClose float64
	havePrev  bool
	bucketEnd time.Time
	lastPrice float64
	haveTick  bool
}

// eventMessage is the object-form envelope the exchange uses for
// everything that is not channel data: heartbeats, system status, and
// subscription acks.
type eventMessage struct {
	Event  string `json:"event"`
	Status string `json:"status"`
	Pair   string `json:"pair"`
}

// New creates a feed. Interval defaults to one minute.
func New(config Config, handler Handler) (*Feed, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("feed URL must not be empty")
	}
	if config.Pair == "" {
		return nil, fmt.Errorf("feed pair must not be empty")
	}
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.ReconnectBackoff == 0 {
		config.ReconnectBackoff = 5 * time.Second
	}
	return &Feed{config: config, handler: handler}, nil
}

// Run connects and consumes the stream until the context is cancelled,
// reconnecting with backoff on connection loss.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("pair", f.config.Pair).
				Dur("backoff", f.config.ReconnectBackoff).
				Msg("feed connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.config.ReconnectBackoff):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{f.config.Pair},
		"subscription": map[string]string{
			"name": "trade",
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("trade subscription failed: %w", err)
	}
	log.Info().Str("pair", f.config.Pair).Str("url", f.config.URL).Msg("trade subscription sent")

	// Tear the connection down when the context ends so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		f.handleMessage(payload)
	}
}

// handleMessage routes one raw websocket payload. Event envelopes are
// JSON objects; channel data arrives as an array
// [channelID, [[price, volume, time, ...], ...], channelName, pair].
func (f *Feed) handleMessage(payload []byte) {
	var event eventMessage
	if err := json.Unmarshal(payload, &event); err == nil && event.Event != "" {
		if event.Event == "subscriptionStatus" && event.Status == "subscribed" {
			log.Info().Str("pair", event.Pair).Msg("trade subscription confirmed")
		}
		return // heartbeats, system status, subscription acks
	}

	var channelMsg []interface{}
	if err := json.Unmarshal(payload, &channelMsg); err != nil || len(channelMsg) < 4 {
		return
	}
	channel, ok := channelMsg[2].(string)
	if !ok || !strings.HasPrefix(channel, "trade") {
		return
	}
	trades, ok := channelMsg[1].([]interface{})
	if !ok {
		return
	}

	for _, raw := range trades {
		trade, ok := raw.([]interface{})
		if !ok || len(trade) < 3 {
			continue
		}
		price, err := parseDecimal(trade[0])
		if err != nil {
			log.Warn().Err(err).Msg("feed trade with bad price, skipping")
			continue
		}
		at, err := parseUnixSeconds(trade[2])
		if err != nil {
			log.Warn().Err(err).Msg("feed trade with bad timestamp, skipping")
			continue
		}
		f.Tick(price, at)
	}
}

// parseDecimal accepts the exchange's string-encoded decimals as well as
// plain JSON numbers.
func parseDecimal(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	}
	return 0, fmt.Errorf("unexpected decimal type %T", v)
}

// parseUnixSeconds converts the trade's fractional unix timestamp into
// the exchange-reported trade time used for bucketing.
func parseUnixSeconds(v interface{}) (time.Time, error) {
	sec, err := parseDecimal(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(sec*float64(time.Second))).UTC(), nil
}

// Tick folds one trade price into the current interval bucket, emitting
// an observation for every interval boundary it crosses. Exposed so the
// bucketing is testable without a live connection.
func (f *Feed) Tick(price float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bucketEnd.IsZero() {
		f.bucketEnd = at.Truncate(f.config.Interval).Add(f.config.Interval)
	}

	for !at.Before(f.bucketEnd) {
		f.closeBucket()
		f.bucketEnd = f.bucketEnd.Add(f.config.Interval)
	}

	f.lastPrice = price
	f.haveTick = true
}

// closeBucket finishes the current interval. Intervals without any ticks
// carry the previous close forward, which emits a 0 (no upward move).
func (f *Feed) closeBucket() {
	if !f.haveTick {
		return
	}
	if f.havePrev && f.handler != nil {
		direction := 0
		if f.lastPrice > f.lastClose {
			direction = 1
		}
		f.handler(Observation{
			Direction: direction,
			Label:     f.bucketEnd.UTC().Format(time.RFC3339),
		})
	}
	f.lastClose = f.lastPrice
	f.havePrev = true
}
