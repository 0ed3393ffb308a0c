package chat

import (
	"context"
	"fmt"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/model"
)

// UpdatePresence records activity for userID, which must be the caller, and
// returns the presence record id.
func (s *Service) UpdatePresence(ctx context.Context, id auth.Identity, userID string) (string, error) {
	if _, err := s.guardSelf(ctx, id, userID); err != nil {
		return "", err
	}
	p, err := s.presence.Touch(ctx, userID, s.clock())
	if err != nil {
		return "", err
	}
	s.publish(ctx, model.TypePresence, userID, userID,
		live.PresenceTopic(userID), live.UserTopic(userID), live.UsersTopic)
	return p.ID, nil
}

// UserPresence returns the raw presence record of userID, or nil when the user
// has never been seen. Online state is left to the reader.
func (s *Service) UserPresence(ctx context.Context, id auth.Identity, userID string) (*model.Presence, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthenticated
	}
	p, err := s.presence.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return p, nil
}

// UpdateTyping stamps the caller's typing time. Only the typing field is written.
func (s *Service) UpdateTyping(ctx context.Context, id auth.Identity, userID string) error {
	if _, err := s.guardSelf(ctx, id, userID); err != nil {
		return err
	}
	now := s.clock()
	if err := s.store.PatchUser(ctx, userID, model.UserPatch{Typing: &now}); err != nil {
		return fmt.Errorf("failed to update typing: %w", err)
	}
	s.publish(ctx, model.TypeTyping, userID, userID, live.UserTopic(userID), live.UsersTopic)
	return nil
}
