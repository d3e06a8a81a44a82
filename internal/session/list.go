package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

var listEvents = map[string]bool{
	model.EventConversationUpdate: true,
	model.EventConversationDelete: true,
	model.EventNotificationCount:  true,
}

// List is a live connection to a user's conversation list. It is the
// primary presence signal.
type List struct {
	base
	presence presence.Store
	bus      broadcast.Bus
}

// NewList creates a list session for user.
func NewList(user *model.User, ps presence.Store, bus broadcast.Bus, cfg Config, log *logger.Logger) *List {
	return &List{
		base:     newBase(KindList, user, cfg, log),
		presence: ps,
		bus:      bus,
	}
}

// Open marks the user online and joins the user group.
func (s *List) Open(ctx context.Context) error {
	if err := s.presence.Connect(ctx, s.user.ID); err != nil {
		return fmt.Errorf("presence connect: %w", err)
	}
	s.bus.Join(broadcast.UserGroup(s.user.ID), s)
	metrics.SessionOpened(KindList)
	s.logger.Info("list session opened")
	return nil
}

// Close leaves the user group and releases the presence channel.
func (s *List) Close(ctx context.Context) {
	if !s.markClosed() {
		return
	}
	s.bus.Leave(broadcast.UserGroup(s.user.ID), s)
	if err := s.presence.Disconnect(ctx, s.user.ID); err != nil {
		s.logger.Warn("presence disconnect failed", zap.Error(err))
	}
	metrics.SessionClosed(KindList)
	s.logger.Info("list session closed")
}

func (s *List) Deliver(ev broadcast.Event) bool {
	if !listEvents[ev.Name] {
		return true
	}
	return s.send(ev.Payload)
}

// Handle answers keep-alives. Anything else is ignored.
func (s *List) Handle(ctx context.Context, data []byte) {
	var ev model.ListInboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Debug("ignoring malformed list frame", zap.Error(err))
		return
	}

	switch ev.Type {
	case "ping":
		s.Touch(ctx)
		s.send(model.PongFrame{Type: "pong"})
	case "heartbeat":
		s.Touch(ctx)
	default:
		return
	}
	metrics.RecordInboundEvent(ev.Type, "ok")
}

// Touch refreshes the user's last-seen time.
func (s *List) Touch(ctx context.Context) {
	if err := s.presence.Touch(ctx, s.user.ID); err != nil {
		s.logger.Warn("presence touch failed", zap.Error(err))
	}
}
