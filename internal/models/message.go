package models

import "time"

// Message represents a chat message. Exactly one of ReceiverID (direct chat)
// and ChatID (group chat) is set. Messages are immutable after creation and
// are hard-deleted, never tombstoned.
type Message struct {
	ID         string    `db:"id" json:"id"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	ReceiverID *string   `db:"receiver_id" json:"receiverId,omitempty"`
	ChatID     *string   `db:"chat_id" json:"chat,omitempty"`
	Text       *string   `db:"text" json:"text,omitempty"`
	Image      *string   `db:"image" json:"image,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// IsGroupMessage reports whether the message belongs to a group conversation.
func (m Message) IsGroupMessage() bool {
	return m.ChatID != nil
}
