// Package chat holds the rules of the chat backend: who the caller is, which
// conversation a pair of users shares, how messages are appended and read,
// and how presence and typing are recorded.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/live"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/presence"
	"github.com/mahaj/convoflow/pkg/snowflake"
	"github.com/mahaj/convoflow/pkg/store"
	"github.com/rs/zerolog"
)

// publishTimeout bounds how long a write waits on its invalidation.
const publishTimeout = 2 * time.Second

type Service struct {
	store    store.Store
	presence presence.Tracker
	events   live.Publisher
	ids      *snowflake.Node
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where invalidation events go. Without it they are dropped.
func WithPublisher(p live.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(st store.Store, tracker presence.Tracker, ids *snowflake.Node, opts ...Option) *Service {
	s := &Service{
		store:    st,
		presence: tracker,
		events:   live.Discard{},
		ids:      ids,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "chat").Logger()
	return s
}

// clock returns now in UTC at the millisecond precision every store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) newID() string {
	return s.ids.Next()
}

// caller resolves the User row of an identity. It returns nil without error
// when the identity has not been synced yet.
func (s *Service) caller(ctx context.Context, id auth.Identity) (*model.User, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthenticated
	}
	u, err := s.store.UserByExternalID(ctx, id.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}
	return u, nil
}

// requireCaller is caller for writes, which need the row to exist.
func (s *Service) requireCaller(ctx context.Context, id auth.Identity) (*model.User, error) {
	u, err := s.caller(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("current user: %w", ErrNotFound)
	}
	return u, nil
}

func (s *Service) publish(ctx context.Context, typ model.EventType, entityID, actorID string, topics ...string) {
	ev := live.Event{
		Type:      typ,
		Topics:    topics,
		EntityID:  entityID,
		ActorID:   actorID,
		Timestamp: s.clock(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Debug().Err(err).Str("type", string(typ)).Str("entity_id", entityID).Msg("failed to publish invalidation")
	}
}

func (s *Service) guardSelf(ctx context.Context, id auth.Identity, userID string) (*model.User, error) {
	u, err := s.requireCaller(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ID != userID {
		return nil, ErrIdentityMismatch
	}
	return u, nil
}
