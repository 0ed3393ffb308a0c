// Package presence derives online state from last-activity timestamps and
// stores those timestamps under one of several interchangeable strategies.
package presence

import (
	"context"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
)

// Window is how long a last-seen timestamp keeps a user online.
const Window = 60 * time.Second

// IsOnline reports whether lastSeen falls inside the presence window ending at now.
func IsOnline(now, lastSeen time.Time) bool {
	return now.Sub(lastSeen) < Window
}

// Tracker records and reads the presence of users. Get returns a nil
// Presence and a nil error when the user has never been seen.
type Tracker interface {
	Touch(ctx context.Context, userID string, now time.Time) (*model.Presence, error)
	Get(ctx context.Context, userID string) (*model.Presence, error)
}
