// Package scylla implements store.Store on ScyllaDB. Uniqueness (external
// identity, direct pair) is enforced with lightweight transactions and
// multi-table writes go through logged batches.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/convoflow/pkg/db"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
)

type Store struct {
	db *db.Session
}

var _ store.Store = (*Store)(nil)

func New(session *db.Session) *Store {
	return &Store{db: session}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// cas runs a conditional statement and reports whether it was applied along
// with the current row when it was not.
func (s *Store) cas(ctx context.Context, stmt string, args ...interface{}) (bool, map[string]interface{}, error) {
	existing := make(map[string]interface{})
	applied, err := s.db.Query(stmt, args...).WithContext(ctx).MapScanCAS(existing)
	return applied, existing, err
}

const userColumns = `id, external_id, name, email, image_url, is_online, last_seen, typing`

func scanUser(scan func(dest ...interface{}) bool) (model.User, bool) {
	var u model.User
	var typing *time.Time
	ok := scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.ImageURL, &u.IsOnline, &u.LastSeen, &typing)
	if ok && typing != nil && !typing.IsZero() {
		t := typing.UTC()
		u.Typing = &t
	}
	u.LastSeen = u.LastSeen.UTC()
	return u, ok
}

func (s *Store) User(ctx context.Context, id string) (*model.User, error) {
	var scanErr error
	u, _ := scanUser(func(dest ...interface{}) bool {
		scanErr = s.db.Query(`SELECT `+userColumns+` FROM users WHERE id = ?`, id).WithContext(ctx).Scan(dest...)
		return scanErr == nil
	})
	if scanErr != nil {
		return nil, notFound(scanErr, "user")
	}
	return &u, nil
}

func (s *Store) UserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var userID string
	err := s.db.Query(`SELECT user_id FROM users_by_external_id WHERE external_id = ?`, externalID).
		WithContext(ctx).Scan(&userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return s.User(ctx, userID)
}

func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	iter := s.db.Query(`SELECT ` + userColumns + ` FROM users`).WithContext(ctx).Iter()
	var users []model.User
	for {
		u, ok := scanUser(iter.Scan)
		if !ok {
			break
		}
		users = append(users, u)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) insertUserRow(ctx context.Context, u *model.User) error {
	return s.db.Query(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ExternalID, u.Name, u.Email, u.ImageURL, u.IsOnline, u.LastSeen, u.Typing).
		WithContext(ctx).Exec()
}

// InsertUser claims the external id and then writes the user row. A claim
// whose row is missing is repaired in place: u takes the claimed id.
func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	applied, existing, err := s.cas(ctx,
		`INSERT INTO users_by_external_id (external_id, user_id) VALUES (?, ?) IF NOT EXISTS`,
		u.ExternalID, u.ID)
	if err != nil {
		return fmt.Errorf("failed to claim external id: %w", err)
	}
	if !applied {
		claimed, _ := existing["user_id"].(string)
		if claimed == "" {
			return fmt.Errorf("user %s: %w", u.ExternalID, store.ErrConflict)
		}
		if _, err := s.User(ctx, claimed); !errors.Is(err, store.ErrNotFound) {
			if err != nil {
				return err
			}
			return fmt.Errorf("user %s: %w", u.ExternalID, store.ErrConflict)
		}
		u.ID = claimed
		if err := s.insertUserRow(ctx, u); err != nil {
			return fmt.Errorf("failed to repair user: %w", err)
		}
		return nil
	}

	if err := s.insertUserRow(ctx, u); err != nil {
		if _, _, derr := s.cas(ctx,
			`DELETE FROM users_by_external_id WHERE external_id = ? IF user_id = ?`,
			u.ExternalID, u.ID); derr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release external id: %w", derr))
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) PatchUser(ctx context.Context, id string, patch model.UserPatch) error {
	if patch.Empty() {
		return nil
	}
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if patch.IsOnline != nil {
		add("is_online", *patch.IsOnline)
	}
	if patch.LastSeen != nil {
		add("last_seen", *patch.LastSeen)
	}
	if patch.Typing != nil {
		add("typing", *patch.Typing)
	}
	args = append(args, id)

	applied, _, err := s.cas(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ? IF EXISTS`, args...)
	if err != nil {
		return fmt.Errorf("failed to patch user: %w", err)
	}
	if !applied {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) PresenceByUser(ctx context.Context, userID string) (*model.Presence, error) {
	p := model.Presence{UserID: userID}
	err := s.db.Query(`SELECT id, last_seen FROM presence WHERE user_id = ?`, userID).
		WithContext(ctx).Scan(&p.ID, &p.LastSeen)
	if err != nil {
		return nil, notFound(err, "presence")
	}
	p.LastSeen = p.LastSeen.UTC()
	return &p, nil
}

func (s *Store) UpsertPresence(ctx context.Context, userID, newID string, lastSeen time.Time) (*model.Presence, error) {
	applied, _, err := s.cas(ctx,
		`INSERT INTO presence (user_id, id, last_seen) VALUES (?, ?, ?) IF NOT EXISTS`,
		userID, newID, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert presence: %w", err)
	}
	if !applied {
		err = s.db.Query(`UPDATE presence SET last_seen = ? WHERE user_id = ?`, lastSeen, userID).
			WithContext(ctx).Exec()
		if err != nil {
			return nil, fmt.Errorf("failed to upsert presence: %w", err)
		}
	}
	return s.PresenceByUser(ctx, userID)
}

func (s *Store) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	c := model.Conversation{ID: id}
	err := s.db.Query(`SELECT is_group, name, last_message_id, created_at FROM conversations WHERE id = ?`, id).
		WithContext(ctx).Scan(&c.IsGroup, &c.Name, &c.LastMessageID, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// writeConversation writes a conversation row and both membership indexes in
// one logged batch. Every statement is an idempotent upsert.
func (s *Store) writeConversation(ctx context.Context, conv *model.Conversation, members [2]model.ConversationMember) error {
	b := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO conversations (id, is_group, name, created_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.IsGroup, conv.Name, conv.CreatedAt)
	for _, m := range members {
		b.Query(`INSERT INTO members_by_conversation (conversation_id, user_id, id) VALUES (?, ?, ?)`,
			conv.ID, m.UserID, m.ID)
		b.Query(`INSERT INTO members_by_user (user_id, conversation_id, id) VALUES (?, ?, ?)`,
			m.UserID, conv.ID, m.ID)
	}
	return s.db.ExecuteBatch(b)
}

// CreateDirectConversation claims the pair and then writes the rows. A lost
// claim returns the winner's id only once its rows exist; when they do not,
// they are written here under the winner's id.
func (s *Store) CreateDirectConversation(ctx context.Context, conv *model.Conversation, members [2]model.ConversationMember) (string, bool, error) {
	key := model.PairKey(members[0].UserID, members[1].UserID)
	applied, existing, err := s.cas(ctx,
		`INSERT INTO direct_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		key, conv.ID)
	if err != nil {
		return "", false, fmt.Errorf("failed to claim pair: %w", err)
	}

	if !applied {
		id, _ := existing["conversation_id"].(string)
		if id == "" {
			return "", false, fmt.Errorf("pair %s: %w", key, store.ErrConflict)
		}
		_, err := s.Conversation(ctx, id)
		if err == nil {
			return id, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", false, err
		}
		repair := *conv
		repair.ID = id
		if err := s.writeConversation(ctx, &repair, members); err != nil {
			return "", false, fmt.Errorf("failed to repair conversation: %w", err)
		}
		return id, false, nil
	}

	if err := s.writeConversation(ctx, conv, members); err != nil {
		if _, _, derr := s.cas(ctx,
			`DELETE FROM direct_pairs WHERE pair_key = ? IF conversation_id = ?`,
			key, conv.ID); derr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release pair: %w", derr))
		}
		return "", false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv.ID, true, nil
}

func (s *Store) scanMembers(iter *gocql.Iter, reversed bool) ([]model.ConversationMember, error) {
	var rows []model.ConversationMember
	var a, b, id string
	for iter.Scan(&a, &b, &id) {
		m := model.ConversationMember{ID: id, ConversationID: a, UserID: b}
		if reversed {
			m.ConversationID, m.UserID = b, a
		}
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return rows, nil
}

func (s *Store) MembershipsByUser(ctx context.Context, userID string) ([]model.ConversationMember, error) {
	iter := s.db.Query(`SELECT user_id, conversation_id, id FROM members_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	return s.scanMembers(iter, true)
}

func (s *Store) MembersByConversation(ctx context.Context, conversationID string) ([]model.ConversationMember, error) {
	iter := s.db.Query(`SELECT conversation_id, user_id, id FROM members_by_conversation WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).Iter()
	return s.scanMembers(iter, false)
}

func (s *Store) Membership(ctx context.Context, conversationID, userID string) (*model.ConversationMember, error) {
	m := model.ConversationMember{ConversationID: conversationID, UserID: userID}
	err := s.db.Query(`SELECT id FROM members_by_conversation WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).
		WithContext(ctx).Scan(&m.ID)
	if err != nil {
		return nil, notFound(err, "membership")
	}
	return &m, nil
}

// AppendMessage writes the message, its receiver index and the
// conversation's last message in one logged batch. Conditional statements
// cannot span partitions, so the conversation is checked first.
func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	if _, err := s.Conversation(ctx, m.ConversationID); err != nil {
		return err
	}

	b := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (conversation_id, created_at, id, sender_id, receiver_id, content, deleted, seen_by, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.CreatedAt, m.ID, m.SenderID, m.ReceiverID, m.Content, m.Deleted, m.SeenBy, m.IsRead)
	if m.ReceiverID != "" {
		b.Query(`INSERT INTO messages_by_receiver (receiver_id, conversation_id, created_at, id, is_read) VALUES (?, ?, ?, ?, ?)`,
			m.ReceiverID, m.ConversationID, m.CreatedAt, m.ID, m.IsRead)
	}
	b.Query(`UPDATE conversations SET last_message_id = ? WHERE id = ?`, m.ID, m.ConversationID)
	if err := s.db.ExecuteBatch(b); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	iter := s.db.Query(`SELECT conversation_id, created_at, id, sender_id, receiver_id, content, deleted, seen_by, is_read
		FROM messages WHERE conversation_id = ?`, conversationID).WithContext(ctx).Iter()

	var rows []model.Message
	for {
		var m model.Message
		var isRead *bool
		if !iter.Scan(&m.ConversationID, &m.CreatedAt, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Deleted, &m.SeenBy, &isRead) {
			break
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.IsRead = isRead
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}

// MessagesByReceiver reads the receiver index, which carries the read state
// and keys but not the message body.
func (s *Store) MessagesByReceiver(ctx context.Context, receiverID string) ([]model.Message, error) {
	iter := s.db.Query(`SELECT conversation_id, created_at, id, is_read FROM messages_by_receiver WHERE receiver_id = ?`, receiverID).
		WithContext(ctx).Iter()

	var rows []model.Message
	for {
		m := model.Message{ReceiverID: receiverID}
		var isRead *bool
		if !iter.Scan(&m.ConversationID, &m.CreatedAt, &m.ID, &isRead) {
			break
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.IsRead = isRead
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}

func (s *Store) MarkRead(ctx context.Context, m model.Message) error {
	b := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`UPDATE messages SET is_read = true WHERE conversation_id = ? AND created_at = ? AND id = ?`,
		m.ConversationID, m.CreatedAt, m.ID)
	if m.ReceiverID != "" {
		b.Query(`UPDATE messages_by_receiver SET is_read = true WHERE receiver_id = ? AND conversation_id = ? AND created_at = ? AND id = ?`,
			m.ReceiverID, m.ConversationID, m.CreatedAt, m.ID)
	}
	if err := s.db.ExecuteBatch(b); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}
