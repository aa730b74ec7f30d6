package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// Realtime event names pushed to subscribed clients. These are part of the
// wire contract and must not change without a client migration.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventMessageUpdated = "MessageUpdated"
	EventMessageDeleted = "MessageDeleted"
)

// Message is the stored form of a chat message. A message carries text
// content, a file attachment, or both; it never carries neither.
type Message struct {
	ID           string     `json:"id" bson:"_id"`
	GroupID      string     `json:"group_id" bson:"group_id"`
	SenderID     string     `json:"sender_id" bson:"sender_id"`
	Content      string     `json:"content" bson:"content"`
	FileURL      string     `json:"file_url,omitempty" bson:"file_url,omitempty"`
	MimeType     string     `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
	Timestamp    time.Time  `json:"timestamp" bson:"timestamp"`
	IsDeleted    bool       `json:"is_deleted" bson:"is_deleted"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty" bson:"last_edited_at,omitempty"`
}

// NewMessage builds a message for the given group and sender, enforcing
// that at least one of content and fileURL is present.
func NewMessage(groupID, senderID, content, fileURL, mimeType string) (*Message, error) {
	if content == "" && fileURL == "" {
		return nil, apperrors.InvalidInput("message must have content or a file attachment")
	}
	return &Message{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		FileURL:   fileURL,
		MimeType:  mimeType,
		Timestamp: time.Now().UTC(),
	}, nil
}

// HasFile reports whether the message carries a file attachment.
func (m *Message) HasFile() bool {
	return m.FileURL != ""
}

// MessageView is the read model returned to clients and pushed over the
// realtime channel. It augments the stored message with the sender's
// username resolved at read time.
type MessageView struct {
	ID             string     `json:"id"`
	GroupID        string     `json:"group_id"`
	SenderID       string     `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	Content        string     `json:"content"`
	FileURL        string     `json:"file_url,omitempty"`
	MimeType       string     `json:"mime_type,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	IsDeleted      bool       `json:"is_deleted"`
	LastEditedAt   *time.Time `json:"last_edited_at,omitempty"`
}

// View projects the message into its client-facing read model.
func (m *Message) View(senderUsername string) MessageView {
	return MessageView{
		ID:             m.ID,
		GroupID:        m.GroupID,
		SenderID:       m.SenderID,
		SenderUsername: senderUsername,
		Content:        m.Content,
		FileURL:        m.FileURL,
		MimeType:       m.MimeType,
		Timestamp:      m.Timestamp,
		IsDeleted:      m.IsDeleted,
		LastEditedAt:   m.LastEditedAt,
	}
}
