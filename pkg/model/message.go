package model

import "time"

// Message is an immutable chat line; only its read state changes after insert.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	SenderID       string    `json:"sender_id" gorm:"not null;index"`
	ReceiverID     string    `json:"receiver_id" gorm:"index"`
	Content        string    `json:"content" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;index:idx_messages_conversation_created,priority:2"`
	Deleted        bool      `json:"deleted" gorm:"not null;default:false"`
	SeenBy         []string  `json:"seen_by" gorm:"serializer:json"`

	// IsRead is nil on rows written before the flag existed. Readers treat nil as unread.
	IsRead *bool `json:"is_read,omitempty"`
}

// Read reports whether the message is explicitly marked read.
func (m Message) Read() bool {
	return m.IsRead != nil && *m.IsRead
}

// Reaction is an emoji left on a message by a user.
type Reaction struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MessageID string `json:"message_id" gorm:"not null;index"`
	UserID    string `json:"user_id" gorm:"not null;index"`
	Emoji     string `json:"emoji" gorm:"not null"`
}
