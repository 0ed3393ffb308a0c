package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
)

// findDirect scans selfID's memberships for a conversation whose only two
// members are selfID and otherID. It returns "" when there is none.
func (s *Service) findDirect(ctx context.Context, selfID, otherID string) (string, error) {
	memberships, err := s.store.MembershipsByUser(ctx, selfID)
	if err != nil {
		return "", fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, mem := range memberships {
		members, err := s.store.MembersByConversation(ctx, mem.ConversationID)
		if err != nil {
			return "", fmt.Errorf("failed to list members: %w", err)
		}
		if len(members) != 2 {
			continue
		}
		if other, ok := otherMember(members, selfID); ok && other.UserID == otherID {
			return mem.ConversationID, nil
		}
	}
	return "", nil
}

func otherMember(members []model.ConversationMember, selfID string) (model.ConversationMember, bool) {
	for _, m := range members {
		if m.UserID != selfID {
			return m, true
		}
	}
	return model.ConversationMember{}, false
}

// FindDirectConversation returns the 1-on-1 conversation between the caller
// and otherUserID, or nil when they have none.
func (s *Service) FindDirectConversation(ctx context.Context, id auth.Identity, otherUserID string) (*model.Conversation, error) {
	self, err := s.caller(ctx, id)
	if err != nil || self == nil {
		return nil, err
	}
	convID, err := s.findDirect(ctx, self.ID, otherUserID)
	if err != nil || convID == "" {
		return nil, err
	}
	conv, err := s.store.Conversation(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return conv, err
}

// GetOrCreateConversation returns the id of the conversation between the
// caller and otherUserID, creating it with both members when absent.
func (s *Service) GetOrCreateConversation(ctx context.Context, id auth.Identity, otherUserID string) (string, error) {
	self, err := s.requireCaller(ctx, id)
	if err != nil {
		return "", err
	}
	if self.ID == otherUserID {
		return "", ErrSelfConversation
	}
	if _, err := s.store.User(ctx, otherUserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("user %s: %w", otherUserID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	convID, err := s.findDirect(ctx, self.ID, otherUserID)
	if err != nil {
		return "", err
	}
	if convID != "" {
		return convID, nil
	}

	conv := &model.Conversation{ID: s.newID(), CreatedAt: s.clock()}
	members := [2]model.ConversationMember{
		{ID: s.newID(), ConversationID: conv.ID, UserID: self.ID},
		{ID: s.newID(), ConversationID: conv.ID, UserID: otherUserID},
	}
	convID, created, err := s.store.CreateDirectConversation(ctx, conv, members)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	if created {
		s.log.Info().Str("conversation_id", convID).Str("user_id", self.ID).Str("other_user_id", otherUserID).Msg("conversation created")
		s.publish(ctx, model.TypeConversation, convID, self.ID,
			live.ConversationsTopic(self.ID), live.ConversationsTopic(otherUserID))
	}
	return convID, nil
}

// UserConversations lists the caller's conversations with the counterpart's
// current profile, newest conversation first.
func (s *Service) UserConversations(ctx context.Context, id auth.Identity) ([]model.ConversationSummary, error) {
	self, err := s.caller(ctx, id)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return []model.ConversationSummary{}, nil
	}
	return s.conversationsOf(ctx, self.ID)
}

func (s *Service) conversationsOf(ctx context.Context, selfID string) ([]model.ConversationSummary, error) {
	memberships, err := s.store.MembershipsByUser(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	result := make([]model.ConversationSummary, 0, len(memberships))
	for _, mem := range memberships {
		conv, err := s.store.Conversation(ctx, mem.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}

		members, err := s.store.MembersByConversation(ctx, mem.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		other, ok := otherMember(members, selfID)
		if !ok {
			continue
		}
		otherUser, err := s.store.User(ctx, other.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}

		result = append(result, model.ConversationSummary{
			ID:            conv.ID,
			OtherUser:     model.SnapshotOf(*otherUser),
			LastMessageID: conv.LastMessageID,
			CreatedAt:     conv.CreatedAt,
		})
	}

	slices.SortStableFunc(result, func(a, b model.ConversationSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}
