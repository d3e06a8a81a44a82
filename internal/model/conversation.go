package model

import (
	"time"
)

// Participant is one side of a two-party conversation.
type Participant struct {
	UserID    string     `json:"user_id"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Conversation is a durable two-party messaging thread.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant returns the entry for userID.
func (c *Conversation) Participant(userID string) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) (string, bool) {
	if !c.HasParticipant(userID) {
		return "", false
	}
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p.UserID, true
		}
	}
	return "", false
}

// ParticipantIDs returns both participant ids.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// IsDeletedFor reports whether userID has soft-deleted the conversation.
func (c *Conversation) IsDeletedFor(userID string) bool {
	p, ok := c.Participant(userID)
	return ok && p.Deleted
}

// VisibleSince returns the instant after which userID sees messages. It is
// zero unless the user deleted the conversation at some point.
func (c *Conversation) VisibleSince(userID string) time.Time {
	p, ok := c.Participant(userID)
	if !ok || p.DeletedAt == nil {
		return time.Time{}
	}
	return *p.DeletedAt
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Participants = make([]Participant, len(c.Participants))
	for i, p := range c.Participants {
		out.Participants[i] = p
		if p.DeletedAt != nil {
			at := *p.DeletedAt
			out.Participants[i].DeletedAt = &at
		}
	}
	return &out
}

// ConversationView is a conversation rendered for one viewer.
type ConversationView struct {
	ID           string       `json:"id"`
	Participants []UserView   `json:"participants"`
	LastMessage  *MessageView `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// UserView is a participant rendered with presence and an absolute picture URL.
type UserView struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	DisplayName    string     `json:"display_name"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	IsOnline       bool       `json:"is_online"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
}

// UnreadCounts is the per-user unread badge state.
type UnreadCounts struct {
	TotalUnreadCount   int            `json:"total_unread_count"`
	ConversationCounts map[string]int `json:"conversation_counts"`
}
