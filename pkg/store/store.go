// Package store defines the persistence primitives the chat rules are built on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store is the backing database. Implementations must make every method
// atomic on its own, across every row it touches.
type Store interface {
	UserStore
	PresenceStore
	ConversationStore
	MessageStore
	Close() error
}

type UserStore interface {
	User(ctx context.Context, id string) (*model.User, error)
	UserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	Users(ctx context.Context) ([]model.User, error)
	// InsertUser fails with ErrConflict when the external id is already taken.
	InsertUser(ctx context.Context, u *model.User) error
	// PatchUser writes only the fields set in patch.
	PatchUser(ctx context.Context, id string, patch model.UserPatch) error
}

type PresenceStore interface {
	PresenceByUser(ctx context.Context, userID string) (*model.Presence, error)
	// UpsertPresence sets lastSeen on the user's record, creating it with newID when absent.
	UpsertPresence(ctx context.Context, userID, newID string, lastSeen time.Time) (*model.Presence, error)
}

type ConversationStore interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	// CreateDirectConversation claims the unordered pair {a, b} and writes conv
	// with its two members. When the pair is already claimed it writes nothing
	// and returns the existing conversation id with created=false.
	CreateDirectConversation(ctx context.Context, conv *model.Conversation, members [2]model.ConversationMember) (id string, created bool, err error)
	MembershipsByUser(ctx context.Context, userID string) ([]model.ConversationMember, error)
	MembersByConversation(ctx context.Context, conversationID string) ([]model.ConversationMember, error)
	Membership(ctx context.Context, conversationID, userID string) (*model.ConversationMember, error)
}

type MessageStore interface {
	// AppendMessage inserts m and points its conversation's last message at
	// it in one atomic write. It fails with ErrNotFound, writing nothing, when
	// the conversation does not exist.
	AppendMessage(ctx context.Context, m *model.Message) error
	// MessagesByConversation returns messages oldest first.
	MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	MessagesByReceiver(ctx context.Context, receiverID string) ([]model.Message, error)
	MarkRead(ctx context.Context, m model.Message) error
}
