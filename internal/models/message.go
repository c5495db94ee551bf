package models

import (
	"time"
)

// MessageType distinguishes chat messages from display-only status lines.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeStatus  MessageType = "status"
)

/** --------------------ENTITIES-------------------- */

// Message is a persisted direct message. The wire id doubles as the primary
// key: the id is minted by the sending client and is immutable for the life
// of the message, so inserting the same id twice must collapse to one row.
type Message struct {
	ID             string      `gorm:"primaryKey" json:"id"`
	SenderID       string      `gorm:"index:idx_messages_sender_ts,priority:1;not null" json:"senderId"`
	SenderUsername string      `gorm:"not null" json:"senderUsername"`
	RecipientID    *string     `gorm:"index:idx_messages_recipient_ts,priority:1" json:"recipientId"`
	Text           string      `gorm:"not null" json:"text"`
	Type           MessageType `gorm:"default:message" json:"type"`
	Edited         bool        `gorm:"default:false" json:"edited"`
	Seen           bool        `gorm:"default:false" json:"seen"`
	SeenAt         *time.Time  `json:"seenAt"`
	Timestamp      int64       `gorm:"index:idx_messages_sender_ts,priority:2;index:idx_messages_recipient_ts,priority:2" json:"timestamp"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

/** -------------------- DTOs -------------------- */

// Participant is one entry of the presence snapshot broadcast to every
// connection after a join or leave.
type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"`
}

// Identity binds a connection to a user. UserID may be empty for legacy
// clients that identify by username only; such connections can chat on the
// broadcast scope but are not direct-delivery targets.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
