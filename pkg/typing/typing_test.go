package typing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTyping_Boundary(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) *time.Time {
		ts := now.Add(-time.Duration(ms) * time.Millisecond)
		return &ts
	}

	assert.False(t, IsTyping(now, nil))
	assert.True(t, IsTyping(now, at(0)))
	assert.True(t, IsTyping(now, at(1999)))
	assert.False(t, IsTyping(now, at(2000)))
	assert.False(t, IsTyping(now, at(2001)))
}

func TestNewThrottle_RejectsIntervalsOutsideWindow(t *testing.T) {
	_, err := NewThrottle(0, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewThrottle(Window, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewThrottle(1500*time.Millisecond, zerolog.Nop())
	assert.NoError(t, err)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newThrottle(t *testing.T, min time.Duration) (*Throttle, *fakeClock) {
	t.Helper()
	th, err := NewThrottle(min, zerolog.Nop())
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	th.now = clock.now
	return th, clock
}

func TestThrottle_Allow(t *testing.T) {
	th, clock := newThrottle(t, DefaultMinInterval)

	assert.True(t, th.Allow())
	clock.advance(100 * time.Millisecond)
	assert.False(t, th.Allow())
	clock.advance(399 * time.Millisecond)
	assert.False(t, th.Allow())
	clock.advance(time.Millisecond)
	assert.True(t, th.Allow())
}

func TestThrottle_ContinuousTypingKeepsIndicatorOn(t *testing.T) {
	th, clock := newThrottle(t, 1500*time.Millisecond)

	var lastSent time.Time
	for i := 0; i < 100; i++ {
		if th.Allow() {
			lastSent = clock.now()
		}
		assert.True(t, IsTyping(clock.now(), &lastSent), "keystroke %d", i)
		clock.advance(50 * time.Millisecond)
	}
}

func TestThrottle_ResetsAfterInactivity(t *testing.T) {
	th, clock := newThrottle(t, 1500*time.Millisecond)

	assert.True(t, th.Allow())
	clock.advance(ResetAfter)
	assert.True(t, th.Allow())
}

func TestThrottle_KeystrokeSwallowsErrors(t *testing.T) {
	th, _ := newThrottle(t, DefaultMinInterval)

	calls := 0
	send := func(context.Context) error { calls++; return assert.AnError }
	th.Keystroke(context.Background(), send)
	th.Keystroke(context.Background(), send)

	assert.Equal(t, 1, calls)
}
