package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

// chatEvents are the broadcast events a chat session forwards.
var chatEvents = map[string]bool{
	model.EventChatMessage:     true,
	model.EventTypingIndicator: true,
	model.EventReadReceipt:     true,
}

// Chat is a live connection to one conversation.
type Chat struct {
	base
	conversationID string

	messages *service.MessageService
	presence presence.Store
	bus      broadcast.Bus
	limiter  *rate.Limiter
}

// NewChat creates a chat session. The caller has already checked that user
// participates in the conversation.
func NewChat(
	user *model.User,
	conversationID string,
	messages *service.MessageService,
	ps presence.Store,
	bus broadcast.Bus,
	cfg Config,
	log *logger.Logger,
) *Chat {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = DefaultConfig().EventsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	s := &Chat{
		base:           newBase(KindChat, user, cfg, log),
		conversationID: conversationID,
		messages:       messages,
		presence:       ps,
		bus:            bus,
		limiter:        rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
	}
	s.logger = s.logger.With(zap.String("conversation_id", conversationID))
	return s
}

// Open marks the user online and joins the conversation group.
func (s *Chat) Open(ctx context.Context) error {
	if err := s.presence.Connect(ctx, s.user.ID); err != nil {
		return fmt.Errorf("presence connect: %w", err)
	}
	s.bus.Join(broadcast.ConversationGroup(s.conversationID), s)
	metrics.SessionOpened(KindChat)
	s.logger.Info("chat session opened")
	return nil
}

// Close leaves the group and releases the user's presence channel. It is
// safe to call more than once.
func (s *Chat) Close(ctx context.Context) {
	if !s.markClosed() {
		return
	}
	s.bus.Leave(broadcast.ConversationGroup(s.conversationID), s)
	if err := s.presence.Disconnect(ctx, s.user.ID); err != nil {
		s.logger.Warn("presence disconnect failed", zap.Error(err))
	}
	metrics.SessionClosed(KindChat)
	s.logger.Info("chat session closed")
}

// Deliver forwards conversation events to the client.
func (s *Chat) Deliver(ev broadcast.Event) bool {
	if !chatEvents[ev.Name] {
		return true
	}
	return s.send(ev.Payload)
}

// Handle processes one inbound frame to completion. Failures are reported
// to this connection only.
func (s *Chat) Handle(ctx context.Context, data []byte) {
	action := "unknown"
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("chat handler panicked", zap.String("action", action), zap.Any("panic", r))
			s.sendError(action, apperr.Internal("handler panic", fmt.Errorf("%v", r)))
		}
	}()

	var ev model.InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.sendError(action, apperr.ErrMalformedEvent)
		return
	}
	if ev.ActionType == "" {
		ev.ActionType = model.ActionSend
	}
	action = string(ev.ActionType)
	s.Touch(ctx)

	if !s.limiter.Allow() {
		s.sendError(action, apperr.ErrInboundRateExceeded)
		return
	}

	if err := s.dispatch(ctx, &ev); err != nil {
		s.sendError(action, err)
		return
	}
	metrics.RecordInboundEvent(action, "ok")
}

// Touch refreshes the user's last-seen time.
func (s *Chat) Touch(ctx context.Context) {
	if err := s.presence.Touch(ctx, s.user.ID); err != nil {
		s.logger.Warn("presence touch failed", zap.Error(err))
	}
}

func (s *Chat) dispatch(ctx context.Context, ev *model.InboundEvent) error {
	switch ev.ActionType {
	case model.ActionSend:
		if ev.SenderUsername == "" {
			return apperr.ErrSenderRequired
		}
		if err := s.checkIdentity(ev.SenderUsername); err != nil {
			return err
		}
		req := service.SendRequest{MessageType: ev.MessageType, AudioDataBase64: ev.AudioDataBase64}
		if ev.Content != nil {
			req.Content = *ev.Content
		}
		_, err := s.messages.Send(ctx, s.user, s.conversationID, req)
		return err

	case model.ActionEdit:
		if ev.MessageID == "" || ev.Content == nil || ev.SenderUsername == "" {
			return apperr.ErrEditFieldsMissing
		}
		if err := s.checkIdentity(ev.SenderUsername); err != nil {
			return err
		}
		_, err := s.messages.Edit(ctx, s.user, s.conversationID, ev.MessageID, *ev.Content)
		return err

	case model.ActionDelete:
		if ev.MessageID == "" || ev.SenderUsername == "" {
			return apperr.ErrDeleteFieldsMissing
		}
		if err := s.checkIdentity(ev.SenderUsername); err != nil {
			return err
		}
		return s.messages.Delete(ctx, s.user, s.conversationID, ev.MessageID)

	case model.ActionTyping, model.ActionStopTyping:
		if err := s.checkIdentity(ev.SenderUsername); err != nil {
			return err
		}
		return s.messages.Typing(ctx, s.user, s.conversationID, ev.ActionType == model.ActionTyping)

	case model.ActionMarkRead:
		if len(ev.MessageIDs) == 0 || ev.ReaderUsername == "" {
			return apperr.ErrReadFieldsMissing
		}
		if err := s.checkIdentity(ev.ReaderUsername); err != nil {
			return err
		}
		_, err := s.messages.MarkRead(ctx, s.user, s.conversationID, ev.MessageIDs)
		return err

	default:
		return apperr.ErrUnknownAction
	}
}

// checkIdentity rejects payload usernames that differ from the
// authenticated user. An empty name means the authenticated user.
func (s *Chat) checkIdentity(username string) error {
	if username != "" && username != s.user.Username {
		return apperr.ErrIdentityMismatch
	}
	return nil
}
