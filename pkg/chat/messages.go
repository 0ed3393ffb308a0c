package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
)

// member loads a conversation and checks that userID belongs to it.
func (s *Service) member(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := s.store.Conversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	_, err = s.store.Membership(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	return conv, nil
}

// SendMessage appends body to the conversation as the caller and returns the
// new message id. The conversation's creation time is left untouched.
func (s *Service) SendMessage(ctx context.Context, id auth.Identity, conversationID, body string) (string, error) {
	sender, err := s.requireCaller(ctx, id)
	if err != nil {
		return "", err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}

	conv, err := s.member(ctx, conversationID, sender.ID)
	if err != nil {
		return "", err
	}

	members, err := s.store.MembersByConversation(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list members: %w", err)
	}
	var receivers []string
	for _, m := range members {
		if m.UserID != sender.ID {
			receivers = append(receivers, m.UserID)
		}
	}
	if len(receivers) != 1 {
		return "", ErrNoReceiver
	}

	unread := false
	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		ReceiverID:     receivers[0],
		Content:        body,
		CreatedAt:      s.clock(),
		SeenBy:         []string{sender.ID},
		IsRead:         &unread,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}

	s.publish(ctx, model.TypeMessage, msg.ID, sender.ID,
		live.MessagesTopic(conv.ID),
		live.ConversationsTopic(sender.ID),
		live.ConversationsTopic(msg.ReceiverID),
		live.UnreadTopic(msg.ReceiverID),
	)
	return msg.ID, nil
}

// Messages returns the conversation's messages oldest first. The caller must
// be a member.
func (s *Service) Messages(ctx context.Context, id auth.Identity, conversationID string) ([]model.Message, error) {
	self, err := s.requireCaller(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.member(ctx, conversationID, self.ID); err != nil {
		return nil, err
	}

	msgs, err := s.store.MessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// MarkConversationAsRead flips every unread message addressed to userID in the
// conversation to read. userID must be the caller.
func (s *Service) MarkConversationAsRead(ctx context.Context, id auth.Identity, conversationID, userID string) error {
	if _, err := s.guardSelf(ctx, id, userID); err != nil {
		return err
	}
	if _, err := s.store.Conversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	msgs, err := s.store.MessagesByConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	marked := 0
	for _, m := range msgs {
		if m.ReceiverID != userID || m.Read() {
			continue
		}
		if err := s.store.MarkRead(ctx, m); err != nil {
			return fmt.Errorf("failed to mark message %s read: %w", m.ID, err)
		}
		marked++
	}

	if marked > 0 {
		s.publish(ctx, model.TypeReadReceipt, conversationID, userID,
			live.MessagesTopic(conversationID), live.UnreadTopic(userID))
	}
	return nil
}

// UnreadCounts maps each conversation holding unread messages for userID to
// their count. Conversations without unread messages are absent. userID must
// be the caller.
func (s *Service) UnreadCounts(ctx context.Context, id auth.Identity, userID string) (map[string]int, error) {
	if _, err := s.guardSelf(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.unreadCountsOf(ctx, userID)
}

func (s *Service) unreadCountsOf(ctx context.Context, userID string) (map[string]int, error) {
	msgs, err := s.store.MessagesByReceiver(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list received messages: %w", err)
	}
	counts := make(map[string]int)
	for _, m := range msgs {
		// Rows without a read flag predate it and count as unread.
		if !m.Read() {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}
