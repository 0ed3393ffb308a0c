package presence

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store/sqlstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOnline_Boundary(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsOnline(now, now))
	assert.True(t, IsOnline(now, now.Add(-59999*time.Millisecond)))
	assert.False(t, IsOnline(now, now.Add(-60000*time.Millisecond)))
	assert.False(t, IsOnline(now, now.Add(-60001*time.Millisecond)))
}

func sequence() func() string {
	var n atomic.Int64
	return func() string { return "p" + strconv.FormatInt(n.Add(1), 10) }
}

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTableTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewTableTracker(openStore(t), sequence())

	p, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	first, err := tr.Touch(ctx, "u1", t0)
	require.NoError(t, err)

	second, err := tr.Touch(ctx, "u1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "one record per user")

	got, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastSeen.Equal(t0.Add(time.Second)))
}

func TestUserRowTracker(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tr := NewUserRowTracker(s)

	p, err := tr.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = tr.Touch(ctx, "missing", time.Now())
	assert.Error(t, err)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, s.InsertUser(ctx, &model.User{ID: "u1", ExternalID: "ext-1", Name: "Ada", LastSeen: t0}))

	t1 := t0.Add(10 * time.Second)
	_, err = tr.Touch(ctx, "u1", t1)
	require.NoError(t, err)

	got, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.LastSeen.Equal(t1))

	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Equal(t, "Ada", u.Name, "presence touches only its own fields")
}

func TestRedisTracker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })

	userID := "redis-test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { rdb.Del(context.Background(), redisKey(userID)) })

	tr := NewRedisTracker(rdb, sequence())

	p, err := tr.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, p)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	first, err := tr.Touch(ctx, userID, t0)
	require.NoError(t, err)
	second, err := tr.Touch(ctx, userID, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := tr.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastSeen.Equal(t0.Add(time.Second)))
}

type counter struct {
	touches  atomic.Int32
	offlines atomic.Int32
}

func (c *counter) heartbeat(interval, delay time.Duration) *Heartbeat {
	h := NewHeartbeat(
		func(context.Context) error { c.touches.Add(1); return nil },
		func(context.Context) error { c.offlines.Add(1); return nil },
		zerolog.Nop(),
	)
	h.Interval = interval
	h.OfflineDelay = delay
	return h
}

func TestHeartbeat_TouchesOnInterval(t *testing.T) {
	var c counter
	h := c.heartbeat(10*time.Millisecond, time.Hour)
	h.Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool { return c.touches.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.offlines.Load())
}

func TestHeartbeat_HiddenGoesOfflineAfterDelay(t *testing.T) {
	var c counter
	h := c.heartbeat(time.Hour, 20*time.Millisecond)
	h.Start(context.Background())
	defer h.Stop()

	h.SetVisible(false)
	require.Eventually(t, func() bool { return c.offlines.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeat_VisibilityRegainCancelsOffline(t *testing.T) {
	var c counter
	h := c.heartbeat(time.Hour, 50*time.Millisecond)
	h.Start(context.Background())

	h.SetVisible(false)
	h.SetVisible(true)
	time.Sleep(120 * time.Millisecond)

	assert.Zero(t, c.offlines.Load())
	assert.Equal(t, int32(2), c.touches.Load(), "start touch plus regain touch")

	h.Stop()
	assert.Equal(t, int32(1), c.offlines.Load(), "stop sends one offline")
}

func TestHeartbeat_SwallowsErrors(t *testing.T) {
	var calls atomic.Int32
	fail := func(context.Context) error { calls.Add(1); return assert.AnError }
	h := NewHeartbeat(fail, fail, zerolog.Nop())
	h.Interval = 5 * time.Millisecond
	h.Start(context.Background())

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestHeartbeat_UsableBeforeStart(t *testing.T) {
	var c counter
	h := c.heartbeat(time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.SetVisible(false)
		h.Stop()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat blocked before Start")
	}

	assert.Equal(t, int32(1), c.offlines.Load(), "stop sends one offline")
	assert.Zero(t, c.touches.Load())

	h.Start(context.Background())
	h.Stop()
	assert.Zero(t, c.touches.Load(), "start after stop does nothing")
	assert.Equal(t, int32(1), c.offlines.Load())
}

func TestHeartbeat_StartsHidden(t *testing.T) {
	var c counter
	h := c.heartbeat(time.Hour, time.Hour)
	h.SetVisible(false)
	h.Start(context.Background())

	h.SetVisible(true)
	require.Eventually(t, func() bool { return c.touches.Load() == 1 }, time.Second, 5*time.Millisecond)
	h.Stop()
}
