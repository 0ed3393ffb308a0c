package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mahaj/convoflow/pkg/db"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/snowflake"
	"github.com/mahaj/convoflow/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to the cluster named by SCYLLA_TEST_HOSTS and
// skips when it is not set or not reachable.
func setupTestStore(t *testing.T) (*Store, *snowflake.Node) {
	t.Helper()

	hostsStr := os.Getenv("SCYLLA_TEST_HOSTS")
	if hostsStr == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	hosts := strings.Split(hostsStr, ",")
	log := zerolog.Nop()

	if err := db.EnsureKeyspace(hosts, "chat_test", log); err != nil {
		t.Skipf("ScyllaDB not available at %s: %v", hostsStr, err)
	}
	session, err := db.NewSession(hosts, "chat_test", log)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(session))

	s := New(session)
	t.Cleanup(func() { _ = s.Close() })

	ids, err := snowflake.NewNode(900)
	require.NoError(t, err)
	return s, ids
}

func TestScylla_UserLifecycle(t *testing.T) {
	s, ids := setupTestStore(t)
	ctx := context.Background()

	u := model.User{
		ID:         ids.Next(),
		ExternalID: "ext_" + ids.Next(),
		Name:       "Ada",
		Email:      "ada@example.test",
		LastSeen:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.InsertUser(ctx, &u))

	dup := u
	dup.ID = ids.Next()
	assert.ErrorIs(t, s.InsertUser(ctx, &dup), store.ErrConflict)

	online := true
	require.NoError(t, s.PatchUser(ctx, u.ID, model.UserPatch{IsOnline: &online}))

	got, err := s.UserByExternalID(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.True(t, got.IsOnline)
	assert.Nil(t, got.Typing)

	assert.ErrorIs(t, s.PatchUser(ctx, ids.Next(), model.UserPatch{IsOnline: &online}), store.ErrNotFound)
}

func TestScylla_DirectConversationAndMessages(t *testing.T) {
	s, ids := setupTestStore(t)
	ctx := context.Background()

	a, b := ids.Next(), ids.Next()
	convID := ids.Next()
	conv := &model.Conversation{ID: convID, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	members := [2]model.ConversationMember{
		{ID: ids.Next(), ConversationID: convID, UserID: a},
		{ID: ids.Next(), ConversationID: convID, UserID: b},
	}

	id, created, err := s.CreateDirectConversation(ctx, conv, members)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, convID, id)

	other := &model.Conversation{ID: ids.Next(), CreatedAt: conv.CreatedAt}
	id, created, err = s.CreateDirectConversation(ctx, other, [2]model.ConversationMember{
		{ID: ids.Next(), ConversationID: other.ID, UserID: b},
		{ID: ids.Next(), ConversationID: other.ID, UserID: a},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, convID, id)

	unread := false
	for i := 0; i < 3; i++ {
		m := model.Message{
			ID:             ids.Next(),
			ConversationID: convID,
			SenderID:       a,
			ReceiverID:     b,
			Content:        "hi",
			CreatedAt:      conv.CreatedAt.Add(time.Duration(3-i) * time.Second),
			SeenBy:         []string{a},
			IsRead:         &unread,
		}
		require.NoError(t, s.AppendMessage(ctx, &m))
	}

	msgs, err := s.MessagesByConversation(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}

	require.NoError(t, s.MarkRead(ctx, msgs[0]))
	byReceiver, err := s.MessagesByReceiver(ctx, b)
	require.NoError(t, err)
	assert.Len(t, byReceiver, 3)
}

func TestScylla_AppendMessage_MissingConversation(t *testing.T) {
	s, ids := setupTestStore(t)
	ctx := context.Background()

	convID := ids.Next()
	err := s.AppendMessage(ctx, &model.Message{
		ID: ids.Next(), ConversationID: convID, SenderID: "a", ReceiverID: "b",
		Content: "hi", CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	msgs, err := s.MessagesByConversation(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestScylla_InsertUser_RepairsDanglingClaim(t *testing.T) {
	s, ids := setupTestStore(t)
	ctx := context.Background()

	ext, claimed := "ext_"+ids.Next(), ids.Next()
	require.NoError(t, s.db.Query(`INSERT INTO users_by_external_id (external_id, user_id) VALUES (?, ?)`, ext, claimed).
		WithContext(ctx).Exec())

	u := model.User{ID: ids.Next(), ExternalID: ext, Name: "Ada", LastSeen: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, s.InsertUser(ctx, &u))
	assert.Equal(t, claimed, u.ID)

	got, err := s.UserByExternalID(ctx, ext)
	require.NoError(t, err)
	assert.Equal(t, claimed, got.ID)
	assert.Equal(t, "Ada", got.Name)
}

func TestScylla_CreateDirectConversation_RepairsDanglingClaim(t *testing.T) {
	s, ids := setupTestStore(t)
	ctx := context.Background()

	a, b, claimed := ids.Next(), ids.Next(), ids.Next()
	require.NoError(t, s.db.Query(`INSERT INTO direct_pairs (pair_key, conversation_id) VALUES (?, ?)`, model.PairKey(a, b), claimed).
		WithContext(ctx).Exec())

	conv := &model.Conversation{ID: ids.Next(), CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	id, created, err := s.CreateDirectConversation(ctx, conv, [2]model.ConversationMember{
		{ID: ids.Next(), ConversationID: conv.ID, UserID: a},
		{ID: ids.Next(), ConversationID: conv.ID, UserID: b},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, claimed, id)

	_, err = s.Conversation(ctx, claimed)
	require.NoError(t, err)
	members, err := s.MembersByConversation(ctx, claimed)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	for _, m := range members {
		assert.Equal(t, claimed, m.ConversationID)
	}
}
