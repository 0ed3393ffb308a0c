// Package typing derives the "is typing" indicator and bounds how often a
// client writes it.
package typing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window is how long a typing timestamp keeps the indicator on.
const Window = 2 * time.Second

const (
	DefaultMinInterval = 500 * time.Millisecond
	ResetAfter         = 2 * time.Second
)

// IsTyping reports whether typing is set and falls inside the window ending at now.
func IsTyping(now time.Time, typing *time.Time) bool {
	return typing != nil && now.Sub(*typing) < Window
}

// Throttle drops typing writes that follow the previous write by less than
// MinInterval. After ResetAfter without keystrokes the state is cleared.
// MinInterval must stay below Window so the indicator never lapses while the
// user keeps typing.
type Throttle struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSent    time.Time
	lastKey     time.Time
	now         func() time.Time
	log         zerolog.Logger
}

func NewThrottle(minInterval time.Duration, log zerolog.Logger) (*Throttle, error) {
	if minInterval <= 0 {
		return nil, fmt.Errorf("typing: min interval must be positive, got %s", minInterval)
	}
	if minInterval >= Window {
		return nil, fmt.Errorf("typing: min interval %s must be below the %s typing window", minInterval, Window)
	}
	return &Throttle{minInterval: minInterval, now: time.Now, log: log}, nil
}

// Allow records a keystroke and reports whether a write should go out for it.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.lastKey.IsZero() && now.Sub(t.lastKey) >= ResetAfter {
		t.lastSent = time.Time{}
	}
	t.lastKey = now

	if !t.lastSent.IsZero() && now.Sub(t.lastSent) < t.minInterval {
		return false
	}
	t.lastSent = now
	return true
}

// Keystroke calls send when Allow permits it. Failures are logged and dropped.
func (t *Throttle) Keystroke(ctx context.Context, send func(ctx context.Context) error) {
	if !t.Allow() {
		return
	}
	if err := send(ctx); err != nil {
		t.log.Debug().Err(err).Msg("typing update failed")
	}
}
