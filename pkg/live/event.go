// Package live carries invalidation events from writers to the readers whose
// snapshots they affect.
package live

import (
	"context"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
)

// Event names the topics a successful write invalidated.
type Event struct {
	Type      model.EventType `json:"type"`
	Topics    []string        `json:"topics"`
	EntityID  string          `json:"entity_id,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// UsersTopic is invalidated by any change to any user.
const UsersTopic = "users"

func UserTopic(userID string) string {
	return "user:" + userID
}

func PresenceTopic(userID string) string {
	return "presence:" + userID
}

// ConversationsTopic covers the conversation list of one user.
func ConversationsTopic(userID string) string {
	return "conversations:" + userID
}

func MessagesTopic(conversationID string) string {
	return "messages:" + conversationID
}

func UnreadTopic(userID string) string {
	return "unread:" + userID
}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
