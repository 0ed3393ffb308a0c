package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
)

// SyncUser creates or refreshes the User row of the caller from its identity
// claims and returns the row id.
func (s *Service) SyncUser(ctx context.Context, id auth.Identity) (string, error) {
	if !id.Authenticated() {
		return "", ErrUnauthenticated
	}

	name := displayName(id)
	now := s.clock()
	online := true
	patch := model.UserPatch{
		Name:     &name,
		Email:    &id.Email,
		ImageURL: &id.Picture,
		IsOnline: &online,
		LastSeen: &now,
	}

	userID, err := s.upsertUser(ctx, id.Subject, patch)
	if err != nil {
		return "", err
	}
	s.publish(ctx, model.TypeUser, userID, userID, live.UserTopic(userID), live.UsersTopic)
	return userID, nil
}

func (s *Service) upsertUser(ctx context.Context, subject string, patch model.UserPatch) (string, error) {
	// A conflicting insert means a concurrent sync created the row first;
	// the second pass then finds it. A second conflict is a broken claim.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var existing *model.User
		existing, err = s.store.UserByExternalID(ctx, subject)
		switch {
		case err == nil:
			if err := s.store.PatchUser(ctx, existing.ID, patch); err != nil {
				return "", fmt.Errorf("failed to refresh user: %w", err)
			}
			return existing.ID, nil
		case !errors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("failed to look up user: %w", err)
		}

		u := &model.User{ID: s.newID(), ExternalID: subject}
		patch.Apply(u)
		err = s.store.InsertUser(ctx, u)
		if err == nil {
			return u.ID, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	return "", fmt.Errorf("failed to create user: %w", err)
}

func displayName(id auth.Identity) string {
	switch {
	case id.Name != "":
		return id.Name
	case id.Email != "":
		return id.Email
	default:
		return "Unknown"
	}
}

// SetOnline marks the caller online. It returns "" when the caller has no row.
func (s *Service) SetOnline(ctx context.Context, id auth.Identity) (string, error) {
	return s.setOnline(ctx, id, true)
}

// SetOffline marks the caller offline. It returns "" when the caller has no row.
func (s *Service) SetOffline(ctx context.Context, id auth.Identity) (string, error) {
	return s.setOnline(ctx, id, false)
}

func (s *Service) setOnline(ctx context.Context, id auth.Identity, online bool) (string, error) {
	u, err := s.caller(ctx, id)
	if err != nil || u == nil {
		return "", err
	}
	now := s.clock()
	if err := s.store.PatchUser(ctx, u.ID, model.UserPatch{IsOnline: &online, LastSeen: &now}); err != nil {
		return "", fmt.Errorf("failed to update online state: %w", err)
	}
	s.publish(ctx, model.TypePresence, u.ID, u.ID, live.UserTopic(u.ID), live.PresenceTopic(u.ID), live.UsersTopic)
	return u.ID, nil
}

// CurrentUser returns the caller's row, or nil when it has not been synced.
func (s *Service) CurrentUser(ctx context.Context, id auth.Identity) (*model.User, error) {
	return s.caller(ctx, id)
}

// Users lists every user except the caller.
func (s *Service) Users(ctx context.Context, id auth.Identity) ([]model.User, error) {
	self, err := s.caller(ctx, id)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return []model.User{}, nil
	}

	all, err := s.store.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	others := make([]model.User, 0, len(all))
	for _, u := range all {
		if u.ID != self.ID {
			others = append(others, u)
		}
	}
	return others, nil
}
