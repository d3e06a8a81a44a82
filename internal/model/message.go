package model

import (
	"time"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeAudio MessageType = "audio"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeAudio
}

// Message is a single text or audio message in a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	RecipientID    string      `json:"recipient_id"`
	Type           MessageType `json:"message_type"`
	Content        string      `json:"content,omitempty"`
	Audio          []byte      `json:"-"`
	IsDelivered    bool        `json:"is_delivered"`
	IsRead         bool        `json:"is_read"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	out := *m
	if m.Audio != nil {
		out.Audio = append([]byte(nil), m.Audio...)
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		out.EditedAt = &at
	}
	return &out
}

// Preview returns a short plain-text summary used in reminders.
func (m *Message) Preview(limit int) string {
	if m.Type == MessageTypeAudio {
		return "Audio message"
	}
	runes := []rune(m.Content)
	if len(runes) <= limit {
		return m.Content
	}
	return string(runes[:limit]) + "..."
}

// MessageView is a message rendered for the wire.
type MessageView struct {
	ActionType              string      `json:"action_type,omitempty"`
	ID                      string      `json:"id"`
	ConversationID          string      `json:"conversation_id"`
	Content                 string      `json:"content"`
	SenderUsername          string      `json:"sender_username"`
	Timestamp               time.Time   `json:"timestamp"`
	IsDelivered             bool        `json:"is_delivered"`
	IsRead                  bool        `json:"is_read"`
	SenderProfilePicture    string      `json:"sender_profile_picture,omitempty"`
	RecipientProfilePicture string      `json:"recipient_profile_picture,omitempty"`
	MessageType             MessageType `json:"message_type"`
	AudioDataBase64         string      `json:"audio_data_base64,omitempty"`
	Edited                  bool        `json:"edited,omitempty"`
}
