package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeMemoizes(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	calls := 0
	produce := func() (interface{}, error) {
		calls++
		return "value", nil
	}

	// First call is a miss and invokes the producer.
	v, err := c.GetOrCompute("key", time.Minute, produce)
	assert.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	// Second call within the TTL never invokes the producer.
	v, err = c.GetOrCompute("key", time.Minute, produce)
	assert.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls, "cache hit must not invoke producer")
}

func TestEntryExpiresLazily(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Add("key", 42, 10*time.Minute)

	v, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	// Exactly at TTL the entry is treated as absent.
	now = now.Add(10 * time.Minute)
	_, ok = c.Get("key")
	assert.False(t, ok, "entry must never be returned past its ttl")

	// And lookup reclaimed it.
	assert.Equal(t, 0, c.Len())
}

func TestExpiredEntryRecomputed(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	calls := 0
	produce := func() (interface{}, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrCompute("key", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)

	v, err = c.GetOrCompute("key", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestProducerErrorNotCached(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	boom := errors.New("remote unavailable")
	calls := 0
	_, err = c.GetOrCompute("key", time.Minute, func() (interface{}, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// A failed producer leaves no entry behind.
	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKeyDayBucketing(t *testing.T) {
	morning := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 1, 22, 30, 0, 0, time.UTC)
	nextDay := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

	// Same account/fuel/period within one day share a key.
	assert.Equal(t,
		Key("A-123", "electricity", 7, morning),
		Key("A-123", "electricity", 7, evening),
	)

	// Any differing component yields a different key.
	assert.NotEqual(t, Key("A-123", "electricity", 7, morning), Key("A-123", "electricity", 7, nextDay))
	assert.NotEqual(t, Key("A-123", "electricity", 7, morning), Key("A-123", "gas", 7, morning))
	assert.NotEqual(t, Key("A-123", "electricity", 7, morning), Key("A-123", "electricity", 30, morning))
	assert.NotEqual(t, Key("A-123", "electricity", 7, morning), Key("A-456", "electricity", 7, morning))
}

func TestBoundedSizeEvictsOldest(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Add("a", 1, time.Minute)
	c.Add("b", 2, time.Minute)
	c.Add("c", 3, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok, "expected oldest entry to be evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
}
