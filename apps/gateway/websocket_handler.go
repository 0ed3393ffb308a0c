package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types exchanged with clients.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSnapshot    = "snapshot"
	frameError       = "error"
)

type inboundFrame struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Query chat.Query     `json:"query"`
	Args  chat.QueryArgs `json:"args"`
}

type outboundFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// Client is a middleman between the websocket connection and the hub. Each
// subscription streams snapshots into send.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity auth.Identity
	connID   string
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

// readPump pumps frames from the websocket connection into subscriptions.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.enqueue(outboundFrame{Type: frameError, Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case frameSubscribe:
			c.subscribe(frame)
		case frameUnsubscribe:
			c.unsubscribe(frame.ID)
		default:
			c.enqueue(outboundFrame{Type: frameError, ID: frame.ID, Error: "unknown frame type"})
		}
	}
}

func (c *Client) subscribe(frame inboundFrame) {
	if frame.ID == "" {
		c.enqueue(outboundFrame{Type: frameError, Error: "subscription id is required"})
		return
	}
	fetch, err := c.hub.chat.Fetcher(frame.Query, c.identity, frame.Args)
	if err != nil {
		c.enqueue(outboundFrame{Type: frameError, ID: frame.ID, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	w, err := live.Watch(ctx, c.hub.broker, fetch)
	if err != nil {
		cancel()
		c.enqueue(outboundFrame{Type: frameError, ID: frame.ID, Error: err.Error()})
		return
	}

	c.mu.Lock()
	if prev, ok := c.subs[frame.ID]; ok {
		prev()
	}
	c.subs[frame.ID] = cancel
	c.mu.Unlock()

	c.enqueue(outboundFrame{Type: frameSnapshot, ID: frame.ID, Data: w.Initial})
	go func() {
		for snap := range w.Updates() {
			c.enqueue(outboundFrame{Type: frameSnapshot, ID: frame.ID, Data: snap})
		}
		if err := w.Err(); err != nil && !errors.Is(err, context.Canceled) {
			c.enqueue(outboundFrame{Type: frameError, ID: frame.ID, Error: err.Error()})
		}
	}()
}

func (c *Client) unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.subs[id]; ok {
		cancel()
		delete(c.subs, id)
	}
}

// enqueue hands a frame to writePump. A client whose buffer is full is
// disconnected.
func (c *Client) enqueue(frame outboundFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Str("id", frame.ID).Msg("failed to marshal frame")
		return
	}
	select {
	case c.send <- b:
	case <-c.ctx.Done():
	default:
		c.log.Warn().Msg("send buffer full, dropping slow client")
		c.cancel()
	}
}

// writePump pumps frames from the subscriptions to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// serveWs authenticates the peer and upgrades the connection.
func serveWs(hub *Hub, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	identity, err := verifier.Verify(auth.BearerToken(r))
	if err != nil {
		hub.log.Warn().Err(err).Msg("Unauthorized websocket request")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(hub.ctx)
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		identity: identity,
		connID:   connID,
		log:      hub.log.With().Str("conn_id", connID).Str("subject", identity.Subject).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]context.CancelFunc),
	}
	if !hub.add(client) {
		cancel()
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
