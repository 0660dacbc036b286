package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimescan/internal/providers/alphavantage"
)

var sampleCloses = []alphavantage.Daily{
	{Date: "2024-01-02", Close: 100.0},
	{Date: "2024-01-03", Close: 102.5},
}

func TestGetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("regimescan:closes:AAPL").RedisNil()

	c := New(db, time.Hour)
	_, ok := c.Get("AAPL")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHit(t *testing.T) {
	payload, err := json.Marshal(sampleCloses)
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("regimescan:closes:AAPL").SetVal(string(payload))

	c := New(db, time.Hour)
	closes, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, sampleCloses, closes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDegradesOnRedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("regimescan:closes:AAPL").SetErr(errors.New("connection refused"))

	c := New(db, time.Hour)
	_, ok := c.Get("AAPL")
	assert.False(t, ok, "cache failures must degrade to upstream fetch, not error out")
}

func TestGetDegradesOnCorruptEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("regimescan:closes:AAPL").SetVal("{not json")

	c := New(db, time.Hour)
	_, ok := c.Get("AAPL")
	assert.False(t, ok)
}

func TestSetWritesWithTTL(t *testing.T) {
	payload, err := json.Marshal(sampleCloses)
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	mock.ExpectSet("regimescan:closes:AAPL", payload, time.Hour).SetVal("OK")

	c := New(db, time.Hour)
	c.Set("AAPL", sampleCloses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheSatisfiesProviderInterface(t *testing.T) {
	var _ alphavantage.CloseCache = (*CloseCache)(nil)
}
