// Package service holds the messaging domain operations. It is the store
// write boundary: every mutation here explicitly publishes to the broadcast
// bus and calls the notification scheduler.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
	"github.com/capitalize-ai/realtime-messaging/pkg/tracing"
)

// ConversationService handles conversation operations.
type ConversationService struct {
	store    store.Store
	bus      broadcast.Bus
	renderer *Renderer
	logger   *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, bus broadcast.Bus, renderer *Renderer, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:    st,
		bus:      bus,
		renderer: renderer,
		logger:   log.Component("conversations"),
		tracer:   tracing.Tracer("service.conversations"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the conversation between userID and participantID,
// creating it if needed. New conversations are announced to both users.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID, participantID string) (*model.ConversationView, bool, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.get_or_create")
	defer span.End()

	if participantID == "" || participantID == userID {
		return nil, false, apperr.ErrInvalidParticipants
	}

	conv, created, err := s.store.GetOrCreateConversation(ctx, userID, participantID)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Bool("conversation.created", created))

	if created {
		metrics.ConversationsTotal.Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.Strings("participants", conv.ParticipantIDs()),
		)
		s.PublishUpdate(ctx, conv, true)
	}

	view, err := s.View(ctx, conv, userID)
	if err != nil {
		return nil, false, err
	}
	return view, created, nil
}

// Get returns a conversation userID participates in.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.ErrNotParticipant
	}
	return conv, nil
}

// List returns the user's visible conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]*model.ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	counts, err := s.store.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}

	views := make([]*model.ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := s.view(ctx, conv, userID, counts)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Delete hides the conversation for userID until the next message arrives.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete")
	defer span.End()

	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteConversation(ctx, conversationID, userID, s.now()); err != nil {
		return err
	}

	s.logger.Info("conversation soft-deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)
	s.publish(ctx, broadcast.UserGroup(userID), model.EventConversationDelete, model.ConversationDeleteFrame{
		Type:           model.EventConversationDelete,
		ConversationID: conversationID,
	})
	s.PublishUnreadCounts(ctx, userID)
	return nil
}

// UnreadCounts returns the user's badge state.
func (s *ConversationService) UnreadCounts(ctx context.Context, userID string) (*model.UnreadCounts, error) {
	return s.store.UnreadCounts(ctx, userID)
}

// View renders conv as seen by viewerID.
func (s *ConversationService) View(ctx context.Context, conv *model.Conversation, viewerID string) (*model.ConversationView, error) {
	counts, err := s.store.UnreadCounts(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return s.view(ctx, conv, viewerID, counts)
}

func (s *ConversationService) view(ctx context.Context, conv *model.Conversation, viewerID string, counts *model.UnreadCounts) (*model.ConversationView, error) {
	view := &model.ConversationView{
		ID:          conv.ID,
		UnreadCount: counts.ConversationCounts[conv.ID],
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}
	for _, id := range conv.ParticipantIDs() {
		u, err := s.renderer.User(ctx, id)
		if err != nil {
			return nil, err
		}
		view.Participants = append(view.Participants, u)
	}

	last, err := s.store.LastMessage(ctx, conv.ID, conv.VisibleSince(viewerID))
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	if last != nil {
		if view.LastMessage, err = s.renderer.Message(ctx, last, ""); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// PublishUpdate sends each participant their own view of conv. Participants
// who have the conversation hidden are skipped.
func (s *ConversationService) PublishUpdate(ctx context.Context, conv *model.Conversation, isNew bool) {
	for _, id := range conv.ParticipantIDs() {
		s.publishUpdateTo(ctx, conv, id, isNew)
	}
}

func (s *ConversationService) publishUpdateTo(ctx context.Context, conv *model.Conversation, userID string, isNew bool) {
	if conv.IsDeletedFor(userID) {
		return
	}
	view, err := s.View(ctx, conv, userID)
	if err != nil {
		s.logger.Warn("failed to render conversation update",
			zap.String("conversation_id", conv.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	s.publish(ctx, broadcast.UserGroup(userID), model.EventConversationUpdate, model.ConversationUpdateFrame{
		Type:         model.EventConversationUpdate,
		Conversation: view,
		IsNew:        isNew,
	})
}

// PublishUnreadCounts pushes the user's badge state to their list sessions.
func (s *ConversationService) PublishUnreadCounts(ctx context.Context, userID string) {
	counts, err := s.store.UnreadCounts(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load unread counts", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.publish(ctx, broadcast.UserGroup(userID), model.EventNotificationCount, model.NotificationCountFrame{
		Type:         model.EventNotificationCount,
		UnreadCounts: *counts,
	})
}

func (s *ConversationService) publish(ctx context.Context, group, name string, payload any) {
	if err := s.bus.Publish(ctx, group, broadcast.Event{Name: name, Payload: payload}); err != nil {
		s.logger.Warn("broadcast failed", zap.String("group", group), zap.String("event", name), zap.Error(err))
	}
}
