// Package sqlstore implements store.Store on gorm. The sqlite driver is used
// for single-node deployments and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// directPair is the uniqueness constraint on the sorted member pair of a
// 1-on-1 conversation.
type directPair struct {
	PairKey        string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null"`
}

func (directPair) TableName() string { return "direct_pairs" }

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to a sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// Each connection to an in-memory database is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Presence{},
		&model.Conversation{},
		&model.ConversationMember{},
		&directPair{},
		&model.Message{},
		&model.Reaction{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("failed to find %s: %w", what, err)
}

func (s *Store) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (s *Store) UserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "external_id = ?", externalID).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user %s: %w", u.ExternalID, store.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) PatchUser(ctx context.Context, id string, patch model.UserPatch) error {
	if patch.Empty() {
		return nil
	}
	updates := make(map[string]any, 6)
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.ImageURL != nil {
		updates["image_url"] = *patch.ImageURL
	}
	if patch.IsOnline != nil {
		updates["is_online"] = *patch.IsOnline
	}
	if patch.LastSeen != nil {
		updates["last_seen"] = *patch.LastSeen
	}
	if patch.Typing != nil {
		updates["typing"] = *patch.Typing
	}

	result := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to patch user: %w", err)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) PresenceByUser(ctx context.Context, userID string) (*model.Presence, error) {
	var p model.Presence
	if err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "presence")
	}
	return &p, nil
}

func (s *Store) UpsertPresence(ctx context.Context, userID, newID string, lastSeen time.Time) (*model.Presence, error) {
	row := model.Presence{ID: newID, UserID: userID, LastSeen: lastSeen}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert presence: %w", err)
	}
	return s.PresenceByUser(ctx, userID)
}

func (s *Store) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "conversation")
	}
	return &c, nil
}

func (s *Store) CreateDirectConversation(ctx context.Context, conv *model.Conversation, members [2]model.ConversationMember) (string, bool, error) {
	var (
		id      string
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pair := directPair{
			PairKey:        model.PairKey(members[0].UserID, members[1].UserID),
			ConversationID: conv.ID,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pair)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var existing directPair
			if err := tx.First(&existing, "pair_key = ?", pair.PairKey).Error; err != nil {
				return err
			}
			id = existing.ConversationID
			return nil
		}

		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		rows := members[:]
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		id, created = conv.ID, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, created, nil
}

func (s *Store) MembershipsByUser(ctx context.Context, userID string) ([]model.ConversationMember, error) {
	var rows []model.ConversationMember
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return rows, nil
}

func (s *Store) MembersByConversation(ctx context.Context, conversationID string) ([]model.ConversationMember, error) {
	var rows []model.ConversationMember
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return rows, nil
}

func (s *Store) Membership(ctx context.Context, conversationID, userID string) (*model.ConversationMember, error) {
	var m model.ConversationMember
	err := s.db.WithContext(ctx).First(&m, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		return nil, notFound(err, "membership")
	}
	return &m, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Conversation{}).
			Where("id = ?", m.ConversationID).
			Update("last_message_id", m.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("conversation %s: %w", m.ConversationID, store.ErrNotFound)
		}
		return tx.Create(m).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var rows []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}

func (s *Store) MessagesByReceiver(ctx context.Context, receiverID string) ([]model.Message, error) {
	var rows []model.Message
	if err := s.db.WithContext(ctx).Where("receiver_id = ?", receiverID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}

func (s *Store) MarkRead(ctx context.Context, m model.Message) error {
	result := s.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", m.ID).Update("is_read", true)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", m.ID, store.ErrNotFound)
	}
	return nil
}

// DB exposes the underlying connection for tooling and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}
