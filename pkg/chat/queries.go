package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
)

// Query names a read that clients can subscribe to.
type Query string

const (
	QueryCurrentUser   Query = "current_user"
	QueryUsers         Query = "users"
	QueryConversations Query = "conversations"
	QueryMessages      Query = "messages"
	QueryUnread        Query = "unread"
	QueryPresence      Query = "presence"
)

// QueryArgs carries the arguments of a subscribed read.
type QueryArgs struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// ErrUnknownQuery is returned by Fetcher for a query name it does not serve.
var ErrUnknownQuery = errors.New("unknown query")

// Fetcher binds a query to the caller. The returned function reads the
// snapshot and names the topics whose invalidation makes it stale.
func (s *Service) Fetcher(q Query, id auth.Identity, args QueryArgs) (live.FetchFunc[any], error) {
	switch q {
	case QueryCurrentUser:
		return func(ctx context.Context) (any, []string, error) {
			u, err := s.CurrentUser(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			if u == nil {
				return nil, []string{live.UsersTopic}, nil
			}
			return u, []string{live.UserTopic(u.ID)}, nil
		}, nil

	case QueryUsers:
		return func(ctx context.Context) (any, []string, error) {
			users, err := s.Users(ctx, id)
			return users, []string{live.UsersTopic}, err
		}, nil

	case QueryConversations:
		return func(ctx context.Context) (any, []string, error) {
			self, err := s.caller(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			if self == nil {
				return []any{}, []string{live.UsersTopic}, nil
			}
			convs, err := s.conversationsOf(ctx, self.ID)
			if err != nil {
				return nil, nil, err
			}
			topics := []string{live.ConversationsTopic(self.ID)}
			for _, c := range convs {
				topics = append(topics, live.UserTopic(c.OtherUser.ID))
			}
			return convs, topics, nil
		}, nil

	case QueryMessages:
		if args.ConversationID == "" {
			return nil, fmt.Errorf("%w: messages needs conversation_id", ErrUnknownQuery)
		}
		return func(ctx context.Context) (any, []string, error) {
			msgs, err := s.Messages(ctx, id, args.ConversationID)
			return msgs, []string{live.MessagesTopic(args.ConversationID)}, err
		}, nil

	case QueryUnread:
		return func(ctx context.Context) (any, []string, error) {
			counts, err := s.UnreadCounts(ctx, id, args.UserID)
			return counts, []string{live.UnreadTopic(args.UserID)}, err
		}, nil

	case QueryPresence:
		return func(ctx context.Context) (any, []string, error) {
			p, err := s.UserPresence(ctx, id, args.UserID)
			return p, []string{live.PresenceTopic(args.UserID)}, err
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, q)
}
