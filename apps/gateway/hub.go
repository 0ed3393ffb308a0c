package main

import (
	"context"
	"sync"
	"time"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/rs/zerolog"
)

// Hub tracks the open connections of every user. A user's first connection
// marks them online and their last disconnect marks them offline.
type Hub struct {
	chat   *chat.Service
	broker *live.Broker
	log    zerolog.Logger

	userClients map[string]map[*Client]bool // identity subject -> clients
	mu          sync.RWMutex
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	ctx         context.Context
}

func NewHub(ctx context.Context, svc *chat.Service, broker *live.Broker, log zerolog.Logger) *Hub {
	return &Hub{
		chat:        svc,
		broker:      broker,
		log:         log.With().Str("component", "hub").Logger(),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		ctx:         ctx,
	}
}

// Run serves registrations until the hub context ends. Client contexts derive
// from it, so every connection closes with the hub.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			subject := client.identity.Subject
			h.mu.Lock()
			first := h.userClients[subject] == nil
			if first {
				h.userClients[subject] = make(map[*Client]bool)
			}
			h.userClients[subject][client] = true
			h.mu.Unlock()

			if first {
				h.mark(client.identity, true)
			}
			h.log.Info().Str("subject", subject).Str("conn_id", client.connID).Msg("Client registered")

		case client := <-h.unregister:
			subject := client.identity.Subject
			h.mu.Lock()
			last := false
			if clients, ok := h.userClients[subject]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.userClients, subject)
					last = true
				}
			}
			h.mu.Unlock()

			if last {
				h.mark(client.identity, false)
			}
			h.log.Info().Str("subject", subject).Str("conn_id", client.connID).Msg("Client unregistered")
		}
	}
}

// connections reports how many connections subject holds.
func (h *Hub) connections(subject string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[subject])
}

func (h *Hub) mark(id auth.Identity, online bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 5*time.Second)
	defer cancel()

	var err error
	if online {
		_, err = h.chat.SetOnline(ctx, id)
	} else {
		_, err = h.chat.SetOffline(ctx, id)
	}
	if err != nil {
		h.log.Debug().Err(err).Str("subject", id.Subject).Bool("online", online).Msg("presence mark failed")
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
