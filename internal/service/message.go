package service

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
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

// MaxContentLength bounds message text in bytes.
const MaxContentLength = 10000

// validateContent checks text bound for storage, whichever transport it
// arrived on.
func validateContent(content string) error {
	if len(content) > MaxContentLength {
		return apperr.ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return apperr.ErrContentNotUTF8
	}
	return nil
}

// Notifier reacts to message lifecycle events. Its errors never fail the
// operation that triggered them.
type Notifier interface {
	OnMessageCreated(ctx context.Context, msg *model.Message) error
	OnMessageRead(ctx context.Context, messageID string) error
}

// SendRequest is a new message from the caller.
type SendRequest struct {
	MessageType     model.MessageType `json:"message_type"`
	Content         string            `json:"content"`
	AudioDataBase64 string            `json:"audio_data_base64"`
}

// MessageService handles message operations.
type MessageService struct {
	store         store.Store
	conversations *ConversationService
	bus           broadcast.Bus
	notifier      Notifier
	renderer      *Renderer
	logger        *logger.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(
	st store.Store,
	conversations *ConversationService,
	bus broadcast.Bus,
	notifier Notifier,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:         st,
		conversations: conversations,
		bus:           bus,
		notifier:      notifier,
		renderer:      conversations.renderer,
		logger:        log.Component("messages"),
		tracer:        tracing.Tracer("service.messages"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Send stores a message from sender and fans it out.
func (s *MessageService) Send(ctx context.Context, sender *model.User, conversationID string, req SendRequest) (*model.MessageView, error) {
	ctx, span := s.tracer.Start(ctx, "message.send")
	defer span.End()

	msgType := req.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, apperr.ErrUnknownMessageType
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		Type:           msgType,
		CreatedAt:      s.now(),
	}
	switch msgType {
	case model.MessageTypeText:
		msg.Content = strings.TrimSpace(req.Content)
		if msg.Content == "" {
			return nil, apperr.ErrContentRequired
		}
		if err := validateContent(msg.Content); err != nil {
			return nil, err
		}
	case model.MessageTypeAudio:
		if req.AudioDataBase64 == "" {
			return nil, apperr.ErrAudioRequired
		}
		audio, err := base64.StdEncoding.DecodeString(req.AudioDataBase64)
		if err != nil || len(audio) == 0 {
			return nil, apperr.ErrInvalidAudio
		}
		msg.Audio = audio
		msg.Content = strings.TrimSpace(req.Content)
		if err := validateContent(msg.Content); err != nil {
			return nil, err
		}
	}

	conv, err := s.conversations.Get(ctx, sender.ID, conversationID)
	if err != nil {
		return nil, err
	}
	recipientID, ok := conv.OtherParticipant(sender.ID)
	if !ok {
		return nil, apperr.ErrInvalidParticipants
	}
	msg.RecipientID = recipientID
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msgType)),
	)

	updated, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(msgType)).Inc()

	view, err := s.renderer.Message(ctx, msg, model.ActionSend)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, broadcast.ConversationGroup(conversationID), model.EventChatMessage, view)

	// A participant whose hidden conversation was just restored sees it as new.
	for _, id := range updated.ParticipantIDs() {
		restored := conv.IsDeletedFor(id) && !updated.IsDeletedFor(id)
		s.conversations.publishUpdateTo(ctx, updated, id, restored)
	}
	s.conversations.PublishUnreadCounts(ctx, recipientID)

	if err := s.notifier.OnMessageCreated(ctx, msg); err != nil {
		s.logger.Warn("failed to schedule reminder", zap.String("message_id", msg.ID), zap.Error(err))
	}

	s.logger.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", conversationID),
		zap.String("sender_id", sender.ID),
	)
	return view, nil
}

// message loads a message and checks it belongs to the conversation.
func (s *MessageService) message(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, apperr.ErrMessageNotFound
	}
	return msg, nil
}

// Edit replaces the trimmed text of a message. Only the sender may edit and
// only text messages are editable.
func (s *MessageService) Edit(ctx context.Context, editor *model.User, conversationID, messageID, content string) (*model.MessageView, error) {
	ctx, span := s.tracer.Start(ctx, "message.edit")
	defer span.End()

	if messageID == "" {
		return nil, apperr.ErrEditFieldsMissing
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.ErrEditFieldsMissing
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}

	msg, err := s.message(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editor.ID {
		return nil, apperr.ErrEditForbidden
	}
	if msg.Type != model.MessageTypeText {
		return nil, apperr.ErrOnlyTextEditable
	}

	edited, err := s.store.UpdateMessageContent(ctx, messageID, content, s.now())
	if err != nil {
		return nil, err
	}
	view, err := s.renderer.Message(ctx, edited, model.ActionEdit)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, broadcast.ConversationGroup(conversationID), model.EventChatMessage, view)
	s.refreshLists(ctx, conversationID)
	return view, nil
}

// Delete removes a message permanently. Only the sender may delete.
func (s *MessageService) Delete(ctx context.Context, deleter *model.User, conversationID, messageID string) error {
	ctx, span := s.tracer.Start(ctx, "message.delete")
	defer span.End()

	if messageID == "" {
		return apperr.ErrDeleteFieldsMissing
	}
	msg, err := s.message(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != deleter.ID {
		return apperr.ErrDeleteForbidden
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.publish(ctx, broadcast.ConversationGroup(conversationID), model.EventChatMessage, model.DeleteFrame{
		ActionType:     string(model.ActionDelete),
		ID:             messageID,
		SenderUsername: deleter.Username,
	})
	s.refreshLists(ctx, conversationID)
	if !msg.IsRead {
		s.conversations.PublishUnreadCounts(ctx, msg.RecipientID)
	}
	return nil
}

// Typing broadcasts a typing indicator. Nothing is stored.
func (s *MessageService) Typing(ctx context.Context, user *model.User, conversationID string, typing bool) error {
	return s.bus.Publish(ctx, broadcast.ConversationGroup(conversationID), broadcast.Event{
		Name: model.EventTypingIndicator,
		Payload: model.TypingFrame{
			ActionType: model.EventTypingIndicator,
			Username:   user.Username,
			IsTyping:   typing,
		},
	})
}

// MarkRead marks the given messages addressed to reader as read and returns
// the ids that were newly marked.
func (s *MessageService) MarkRead(ctx context.Context, reader *model.User, conversationID string, messageIDs []string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "message.mark_read")
	defer span.End()

	if len(messageIDs) == 0 {
		return nil, apperr.ErrReadFieldsMissing
	}
	if _, err := s.conversations.Get(ctx, reader.ID, conversationID); err != nil {
		return nil, err
	}
	read, err := s.store.MarkRead(ctx, conversationID, reader.ID, messageIDs)
	if err != nil {
		return nil, err
	}
	return s.afterRead(ctx, reader, conversationID, read), nil
}

// MarkConversationRead marks everything addressed to reader as read.
func (s *MessageService) MarkConversationRead(ctx context.Context, reader *model.User, conversationID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "message.mark_conversation_read")
	defer span.End()

	if _, err := s.conversations.Get(ctx, reader.ID, conversationID); err != nil {
		return nil, err
	}
	read, err := s.store.MarkConversationRead(ctx, conversationID, reader.ID)
	if err != nil {
		return nil, err
	}
	return s.afterRead(ctx, reader, conversationID, read), nil
}

func (s *MessageService) afterRead(ctx context.Context, reader *model.User, conversationID string, read []*model.Message) []string {
	ids := make([]string, 0, len(read))
	for _, m := range read {
		ids = append(ids, m.ID)
		if err := s.notifier.OnMessageRead(ctx, m.ID); err != nil {
			s.logger.Warn("failed to cancel reminder", zap.String("message_id", m.ID), zap.Error(err))
		}
		s.publish(ctx, broadcast.ConversationGroup(conversationID), model.EventReadReceipt, model.ReadReceiptFrame{
			ActionType:     model.EventReadReceipt,
			MessageID:      m.ID,
			ReaderUsername: reader.Username,
		})
	}
	if len(read) > 0 {
		s.conversations.PublishUnreadCounts(ctx, reader.ID)
	}
	return ids
}

func (s *MessageService) refreshLists(ctx context.Context, conversationID string) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to reload conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	s.conversations.PublishUpdate(ctx, conv, false)
}

func (s *MessageService) publish(ctx context.Context, group, name string, payload any) {
	s.conversations.publish(ctx, group, name, payload)
}
