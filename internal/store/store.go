// Package store provides persistence for users, conversations, messages and
// email notifications.
package store

import (
	"context"
	"time"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

// UserStore resolves user identities.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	PutUser(ctx context.Context, user *model.User) error
}

// ConversationStore persists two-party conversations.
type ConversationStore interface {
	// GetOrCreateConversation returns the conversation between a and b,
	// creating it when none exists. created reports which happened.
	GetOrCreateConversation(ctx context.Context, a, b string) (conv *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ListConversations returns the user's conversations that are not
	// soft-deleted, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	SoftDeleteConversation(ctx context.Context, conversationID, userID string, at time.Time) error
}

// MessageStore persists messages and their read state.
type MessageStore interface {
	// CreateMessage stores msg, bumps the conversation's updated_at and
	// restores it for participants who had soft-deleted it. The returned
	// conversation reflects those changes.
	CreateMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// LastMessage returns the newest message created after since, or nil.
	LastMessage(ctx context.Context, conversationID string, since time.Time) (*model.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// MarkRead sets is_read on the listed messages of the conversation that
	// target readerID and are still unread. Only newly read messages are
	// returned.
	MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]*model.Message, error)
	// MarkConversationRead is MarkRead over every message in the conversation.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]*model.Message, error)
	// UnreadCounts counts unread messages addressed to userID in
	// conversations the user has not soft-deleted.
	UnreadCounts(ctx context.Context, userID string) (*model.UnreadCounts, error)
}

// NotificationUpdate is applied by TransitionNotification.
type NotificationUpdate struct {
	Status         model.NotificationStatus
	SentAt         *time.Time
	ErrorMessage   *string
	TaskID         *string
	IncrementRetry bool
}

// NotificationStore persists email reminders.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.EmailNotification) error
	GetNotification(ctx context.Context, id string) (*model.EmailNotification, error)
	ListNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error)
	// ListNotificationsByStatus returns every notification in one of
	// statuses, oldest first.
	ListNotificationsByStatus(ctx context.Context, statuses ...model.NotificationStatus) ([]*model.EmailNotification, error)
	// TransitionNotification applies update only if the notification is
	// currently in status from. ok is false when the condition did not hold.
	TransitionNotification(ctx context.Context, id string, from model.NotificationStatus, update NotificationUpdate) (n *model.EmailNotification, ok bool, err error)
	// CancelPendingNotifications moves every pending notification of the
	// message to cancelled and returns them.
	CancelPendingNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error)
	PurgeNotifications(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	NotificationStore

	Ping(ctx context.Context) error
	Close() error
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
