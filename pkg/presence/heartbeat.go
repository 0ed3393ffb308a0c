package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultOfflineDelay = 2 * time.Second
)

// Heartbeat drives a client's presence writes. While visible it touches on
// every interval and right away when visibility returns. Going hidden
// schedules an offline call after OfflineDelay unless visibility comes back
// first. Every call is fire-and-forget; failures are logged at debug level.
type Heartbeat struct {
	Touch        func(ctx context.Context) error
	Offline      func(ctx context.Context) error
	Interval     time.Duration
	OfflineDelay time.Duration
	Log          zerolog.Logger

	visibility chan bool
	quit       chan struct{}
	done       chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	hidden  bool
}

func NewHeartbeat(touch, offline func(ctx context.Context) error, log zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		Touch:        touch,
		Offline:      offline,
		Interval:     DefaultInterval,
		OfflineDelay: DefaultOfflineDelay,
		Log:          log,
		visibility:   make(chan bool),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start touches once when visible and begins the loop. The loop ends when ctx
// is cancelled or Stop is called. Start after Stop does nothing.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	go h.run(ctx, !h.hidden)
}

// SetVisible reports a visibility change of the client. Before Start it only
// sets the visibility the loop starts with.
func (h *Heartbeat) SetVisible(visible bool) {
	h.mu.Lock()
	if !h.started {
		h.hidden = !visible
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	select {
	case h.visibility <- visible:
	case <-h.done:
	}
}

// Stop ends the loop and sends one best-effort offline call. Later calls do
// nothing.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()

	if !started {
		h.fire(context.Background(), "offline", h.Offline)
		return
	}
	close(h.quit)
	<-h.done
}

func (h *Heartbeat) run(ctx context.Context, visible bool) {
	defer close(h.done)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	var offlineTimer *time.Timer
	var offlineC <-chan time.Time
	cancelOffline := func() {
		if offlineTimer != nil {
			offlineTimer.Stop()
			offlineTimer, offlineC = nil, nil
		}
	}
	defer cancelOffline()

	if visible {
		h.fire(ctx, "touch", h.Touch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			h.fire(context.Background(), "offline", h.Offline)
			return
		case <-ticker.C:
			if visible {
				h.fire(ctx, "touch", h.Touch)
			}
		case v := <-h.visibility:
			if v == visible {
				continue
			}
			visible = v
			if visible {
				cancelOffline()
				h.fire(ctx, "touch", h.Touch)
			} else {
				offlineTimer = time.NewTimer(h.OfflineDelay)
				offlineC = offlineTimer.C
			}
		case <-offlineC:
			offlineTimer, offlineC = nil, nil
			h.fire(ctx, "offline", h.Offline)
		}
	}
}

func (h *Heartbeat) fire(ctx context.Context, what string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.Log.Debug().Err(err).Str("call", what).Msg("presence heartbeat failed")
	}
}
