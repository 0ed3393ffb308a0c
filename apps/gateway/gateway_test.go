package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/presence"
	"github.com/mahaj/convoflow/pkg/snowflake"
	"github.com/mahaj/convoflow/pkg/store/sqlstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testGateway struct {
	svc    *chat.Service
	hub    *Hub
	server *httptest.Server
	issuer *auth.Issuer
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	st, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	broker := live.NewBroker()
	svc := chat.NewService(st, presence.NewTableTracker(st, node.Next), node, chat.WithPublisher(broker))

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(ctx, svc, broker, zerolog.Nop())
	go hub.Run()

	server := httptest.NewServer(NewMux(hub, auth.NewVerifier(testSecret, "")))
	t.Cleanup(func() {
		cancel()
		<-hub.done
		server.Close()
	})

	return &testGateway{
		svc:    svc,
		hub:    hub,
		server: server,
		issuer: auth.NewIssuer(testSecret, "", time.Hour),
	}
}

func (g *testGateway) dial(t *testing.T, id auth.Identity) *websocket.Conn {
	t.Helper()
	token, err := g.issuer.GenerateToken(id)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServeWs_RejectsMissingToken(t *testing.T) {
	g := newTestGateway(t)
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscribe_SnapshotThenPush(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	ada := auth.Identity{Subject: "ext-ada", Name: "Ada"}
	bob := auth.Identity{Subject: "ext-bob", Name: "Bob"}
	_, err := g.svc.SyncUser(ctx, ada)
	require.NoError(t, err)
	bobID, err := g.svc.SyncUser(ctx, bob)
	require.NoError(t, err)
	convID, err := g.svc.GetOrCreateConversation(ctx, ada, bobID)
	require.NoError(t, err)

	conn := g.dial(t, bob)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundFrame{
		Type:  frameSubscribe,
		ID:    "unread-1",
		Query: chat.QueryUnread,
		Args:  chat.QueryArgs{UserID: bobID},
	}))

	frame := readFrame(t, conn)
	assert.JSONEq(t, `"snapshot"`, string(frame["type"]))
	assert.JSONEq(t, `"unread-1"`, string(frame["id"]))
	assert.JSONEq(t, `{}`, string(frame["data"]))

	_, err = g.svc.SendMessage(ctx, ada, convID, "hello")
	require.NoError(t, err)

	frame = readFrame(t, conn)
	assert.JSONEq(t, `"snapshot"`, string(frame["type"]))
	var counts map[string]int
	require.NoError(t, json.Unmarshal(frame["data"], &counts))
	assert.Equal(t, map[string]int{convID: 1}, counts)
}

func TestSubscribe_Errors(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	ada := auth.Identity{Subject: "ext-ada", Name: "Ada"}
	_, err := g.svc.SyncUser(ctx, ada)
	require.NoError(t, err)

	conn := g.dial(t, ada)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameSubscribe, ID: "x", Query: "everything"}))
	frame := readFrame(t, conn)
	assert.JSONEq(t, `"error"`, string(frame["type"]))

	require.NoError(t, conn.WriteJSON(inboundFrame{
		Type: frameSubscribe, ID: "y", Query: chat.QueryUnread, Args: chat.QueryArgs{UserID: "someone-else"},
	}))
	frame = readFrame(t, conn)
	assert.JSONEq(t, `"error"`, string(frame["type"]))
	assert.Contains(t, string(frame["error"]), "does not match")
}

func TestHub_PresenceMarks(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	ada := auth.Identity{Subject: "ext-ada", Name: "Ada"}
	_, err := g.svc.SyncUser(ctx, ada)
	require.NoError(t, err)
	_, err = g.svc.SetOffline(ctx, ada)
	require.NoError(t, err)

	isOnline := func() bool {
		u, err := g.svc.CurrentUser(ctx, ada)
		require.NoError(t, err)
		return u.IsOnline
	}

	first := g.dial(t, ada)
	second := g.dial(t, ada)
	require.Eventually(t, func() bool { return g.hub.connections(ada.Subject) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, isOnline())

	first.Close()
	require.Eventually(t, func() bool { return g.hub.connections(ada.Subject) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, isOnline(), "one connection left")

	second.Close()
	require.Eventually(t, func() bool { return !isOnline() }, 2*time.Second, 10*time.Millisecond)
}
