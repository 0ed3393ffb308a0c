package model

import "time"

// Conversation is a thread between users. Only the 1-on-1 form is used.
type Conversation struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	IsGroup       bool      `json:"is_group" gorm:"not null;default:false"`
	Name          string    `json:"name,omitempty"`
	LastMessageID string    `json:"last_message_id,omitempty" gorm:"index"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
}

// ConversationMember links one user to one conversation.
type ConversationMember struct {
	ID             string `json:"id" gorm:"primaryKey"`
	ConversationID string `json:"conversation_id" gorm:"not null;index;uniqueIndex:idx_members_conversation_user,priority:1"`
	UserID         string `json:"user_id" gorm:"not null;index;uniqueIndex:idx_members_conversation_user,priority:2"`
}

// UserSnapshot is the counterpart profile embedded in a conversation listing.
// Timestamps are raw so every reader can apply its own clock.
type UserSnapshot struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	ImageURL string     `json:"image_url,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen time.Time  `json:"last_seen"`
	Typing   *time.Time `json:"typing,omitempty"`
}

// SnapshotOf copies the display fields of u.
func SnapshotOf(u User) UserSnapshot {
	return UserSnapshot{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		ImageURL: u.ImageURL,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
		Typing:   u.Typing,
	}
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID            string       `json:"id"`
	OtherUser     UserSnapshot `json:"other_user"`
	LastMessageID string       `json:"last_message_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// PairKey is the canonical key of an unordered user pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
