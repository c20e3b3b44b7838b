package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryConsume_ExhaustsBudget(t *testing.T) {
	now := time.Now()
	b := NewWithClock(3, time.Minute, func() time.Time { return now })

	assert.True(t, b.TryConsume())
	assert.True(t, b.TryConsume())
	assert.True(t, b.TryConsume())
	assert.False(t, b.TryConsume())

	st := b.Status()
	assert.Equal(t, 0, st.Available)
	assert.Equal(t, 3, st.Max)
}

func TestRefill_IsCompleteNotGradual(t *testing.T) {
	now := time.Now()
	b := NewWithClock(2, time.Minute, func() time.Time { return now })

	assert.True(t, b.TryConsume())
	assert.True(t, b.TryConsume())
	assert.False(t, b.TryConsume())

	// Halfway through the interval nothing comes back
	now = now.Add(30 * time.Second)
	assert.False(t, b.TryConsume())

	// At the interval boundary the full budget returns at once
	now = now.Add(31 * time.Second)
	st := b.Status()
	assert.Equal(t, 2, st.Available)
	assert.True(t, b.TryConsume())
	assert.True(t, b.TryConsume())
}

func TestRefill_SkipsMissedIntervals(t *testing.T) {
	now := time.Now()
	b := NewWithClock(1, time.Minute, func() time.Time { return now })

	assert.True(t, b.TryConsume())

	// Several intervals pass unobserved; only one budget is available
	now = now.Add(5 * time.Minute)
	assert.True(t, b.TryConsume())
	assert.False(t, b.TryConsume())
}

func TestStatus_ResetInMs(t *testing.T) {
	now := time.Now()
	b := NewWithClock(1, time.Minute, func() time.Time { return now })

	st := b.Status()
	assert.Equal(t, int64(60000), st.ResetInMs)

	now = now.Add(45 * time.Second)
	st = b.Status()
	assert.Equal(t, int64(15000), st.ResetInMs)
}

func TestNew_Defaults(t *testing.T) {
	b := New(0, 0)
	st := b.Status()
	assert.Equal(t, DefaultTokens, st.Max)
	assert.Equal(t, DefaultTokens, st.Available)
}
