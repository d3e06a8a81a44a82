package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
)

// Memory is an in-process Store. All mutations hold a single lock, which
// makes every conditional update atomic.
type Memory struct {
	mu sync.RWMutex

	users         map[string]*model.User
	usernames     map[string]string
	conversations map[string]*model.Conversation
	pairs         map[string]string
	messages      map[string]*model.Message
	notifications map[string]*model.EmailNotification
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*model.User),
		usernames:     make(map[string]string),
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]*model.Message),
		notifications: make(map[string]*model.EmailNotification),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Ping always succeeds.
func (s *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Memory) Close() error { return nil }

// PutUser inserts or replaces a user.
func (s *Memory) PutUser(ctx context.Context, user *model.User) error {
	if user.ID == "" || user.Username == "" {
		return apperr.Validation("user id and username are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.users[user.ID]; ok {
		delete(s.usernames, prev.Username)
	}
	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	return nil
}

// GetUser returns a user by id.
func (s *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// GetUserByUsername returns a user by username.
func (s *Memory) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	out := *s.users[id]
	return &out, nil
}

// GetOrCreateConversation returns or creates the a-b conversation.
func (s *Memory) GetOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	if a == "" || b == "" || a == b {
		return nil, false, apperr.ErrInvalidParticipants
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{a, b} {
		if _, ok := s.users[id]; !ok {
			return nil, false, apperr.ErrUserNotFound
		}
	}

	key := pairKey(a, b)
	if id, ok := s.pairs[key]; ok {
		return s.conversations[id].Clone(), false, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Participants: []model.Participant{{UserID: a}, {UserID: b}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID

	return conv.Clone(), true, nil
}

// GetConversation returns a conversation by id.
func (s *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// ListConversations returns the user's visible conversations.
func (s *Memory) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) && !conv.IsDeletedFor(userID) {
			out = append(out, conv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// SoftDeleteConversation hides the conversation for userID.
func (s *Memory) SoftDeleteConversation(ctx context.Context, conversationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return apperr.ErrConversationNotFound
	}
	p, ok := conv.Participant(userID)
	if !ok {
		return apperr.ErrNotParticipant
	}
	p.Deleted = true
	p.DeletedAt = &at
	return nil
}

// CreateMessage stores msg and updates its conversation.
func (s *Memory) CreateMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	if _, exists := s.messages[msg.ID]; exists {
		return nil, fmt.Errorf("message %s already exists", msg.ID)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.messages[msg.ID] = msg.Clone()

	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	for i := range conv.Participants {
		p := &conv.Participants[i]
		if p.Deleted && (p.DeletedAt == nil || !p.DeletedAt.After(msg.CreatedAt)) {
			p.Deleted = false
		}
	}

	return conv.Clone(), nil
}

// GetMessage returns a message by id.
func (s *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	return m.Clone(), nil
}

// LastMessage returns the newest message after since.
func (s *Memory) LastMessage(ctx context.Context, conversationID string, since time.Time) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *model.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || !m.CreatedAt.After(since) {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Clone(), nil
}

// UpdateMessageContent replaces the text of a message.
func (s *Memory) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	m.Content = content
	m.EditedAt = &at
	return m.Clone(), nil
}

// DeleteMessage removes a message permanently.
func (s *Memory) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return apperr.ErrMessageNotFound
	}
	delete(s.messages, id)
	return nil
}

// MarkRead flips is_read on unread messages addressed to readerID.
func (s *Memory) MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var read []*model.Message
	for _, id := range dedupe(ids) {
		m, ok := s.messages[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		if m.RecipientID != readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		read = append(read, m.Clone())
	}
	return read, nil
}

// MarkConversationRead marks everything addressed to readerID as read.
func (s *Memory) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, apperr.ErrConversationNotFound
	}

	var read []*model.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.RecipientID != readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		read = append(read, m.Clone())
	}
	sort.Slice(read, func(i, j int) bool {
		return read[i].CreatedAt.Before(read[j].CreatedAt)
	})
	return read, nil
}

// UnreadCounts returns the unread badge state for userID.
func (s *Memory) UnreadCounts(ctx context.Context, userID string) (*model.UnreadCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := &model.UnreadCounts{ConversationCounts: make(map[string]int)}
	for _, m := range s.messages {
		if m.RecipientID != userID || m.IsRead {
			continue
		}
		conv, ok := s.conversations[m.ConversationID]
		if !ok || conv.IsDeletedFor(userID) {
			continue
		}
		if !m.CreatedAt.After(conv.VisibleSince(userID)) {
			continue
		}
		counts.ConversationCounts[m.ConversationID]++
		counts.TotalUnreadCount++
	}
	return counts, nil
}

// CreateNotification stores a new notification.
func (s *Memory) CreateNotification(ctx context.Context, n *model.EmailNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	s.notifications[n.ID] = n.Clone()
	return nil
}

// GetNotification returns a notification by id.
func (s *Memory) GetNotification(ctx context.Context, id string) (*model.EmailNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, apperr.ErrNotificationNotFound
	}
	return n.Clone(), nil
}

// ListNotifications returns every notification of a message, oldest first.
func (s *Memory) ListNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.EmailNotification
	for _, n := range s.notifications {
		if n.MessageID == messageID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListNotificationsByStatus returns notifications in any of statuses.
func (s *Memory) ListNotificationsByStatus(ctx context.Context, statuses ...model.NotificationStatus) ([]*model.EmailNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[model.NotificationStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*model.EmailNotification
	for _, n := range s.notifications {
		if want[n.Status] {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionNotification applies update if the status is still from.
func (s *Memory) TransitionNotification(ctx context.Context, id string, from model.NotificationStatus, update NotificationUpdate) (*model.EmailNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, false, apperr.ErrNotificationNotFound
	}
	if n.Status != from {
		return n.Clone(), false, nil
	}

	n.Status = update.Status
	if update.SentAt != nil {
		at := *update.SentAt
		n.SentAt = &at
	}
	if update.ErrorMessage != nil {
		n.ErrorMessage = *update.ErrorMessage
	}
	if update.TaskID != nil {
		n.TaskID = *update.TaskID
	}
	if update.IncrementRetry {
		n.RetryCount++
	}
	return n.Clone(), true, nil
}

// CancelPendingNotifications cancels all pending reminders of a message.
func (s *Memory) CancelPendingNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []*model.EmailNotification
	for _, n := range s.notifications {
		if n.MessageID == messageID && n.Status == model.NotificationPending {
			n.Status = model.NotificationCancelled
			cancelled = append(cancelled, n.Clone())
		}
	}
	return cancelled, nil
}

// PurgeNotifications deletes notifications created before the cutoff.
func (s *Memory) PurgeNotifications(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, n := range s.notifications {
		if n.CreatedAt.Before(before) {
			delete(s.notifications, id)
			purged++
		}
	}
	return purged, nil
}
