package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
	"github.com/redis/go-redis/v9"
)

// TableTracker keeps one Presence record per user in the store.
type TableTracker struct {
	store store.PresenceStore
	newID func() string
}

func NewTableTracker(s store.PresenceStore, newID func() string) *TableTracker {
	return &TableTracker{store: s, newID: newID}
}

func (t *TableTracker) Touch(ctx context.Context, userID string, now time.Time) (*model.Presence, error) {
	p, err := t.store.UpsertPresence(ctx, userID, t.newID(), now)
	if err != nil {
		return nil, fmt.Errorf("presence: upsert %s: %w", userID, err)
	}
	return p, nil
}

func (t *TableTracker) Get(ctx context.Context, userID string) (*model.Presence, error) {
	p, err := t.store.PresenceByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// RedisTracker keeps one Presence record per user in the hash presence:<userID>.
type RedisTracker struct {
	rdb   *redis.Client
	newID func() string
}

func NewRedisTracker(rdb *redis.Client, newID func() string) *RedisTracker {
	return &RedisTracker{rdb: rdb, newID: newID}
}

func redisKey(userID string) string {
	return "presence:" + userID
}

func (t *RedisTracker) Touch(ctx context.Context, userID string, now time.Time) (*model.Presence, error) {
	key := redisKey(userID)
	var id *redis.StringCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "id", t.newID())
		pipe.HSet(ctx, key, "user_id", userID, "last_seen", now.UnixMilli())
		id = pipe.HGet(ctx, key, "id")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence: redis touch %s: %w", userID, err)
	}
	return &model.Presence{ID: id.Val(), UserID: userID, LastSeen: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

func (t *RedisTracker) Get(ctx context.Context, userID string) (*model.Presence, error) {
	fields, err := t.rdb.HGetAll(ctx, redisKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: redis get %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	ms, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("presence: corrupt last_seen for %s: %w", userID, err)
	}
	return &model.Presence{ID: fields["id"], UserID: userID, LastSeen: time.UnixMilli(ms).UTC()}, nil
}

// UserRowTracker stores presence on the User row itself. Reads synthesise a
// Presence view whose id is the user id.
type UserRowTracker struct {
	store store.UserStore
}

func NewUserRowTracker(s store.UserStore) *UserRowTracker {
	return &UserRowTracker{store: s}
}

func (t *UserRowTracker) Touch(ctx context.Context, userID string, now time.Time) (*model.Presence, error) {
	online := true
	if err := t.store.PatchUser(ctx, userID, model.UserPatch{IsOnline: &online, LastSeen: &now}); err != nil {
		return nil, fmt.Errorf("presence: patch user %s: %w", userID, err)
	}
	return &model.Presence{ID: userID, UserID: userID, LastSeen: now}, nil
}

func (t *UserRowTracker) Get(ctx context.Context, userID string) (*model.Presence, error) {
	u, err := t.store.User(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Presence{ID: u.ID, UserID: u.ID, LastSeen: u.LastSeen}, nil
}
