package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsclient "github.com/capitalize-ai/realtime-messaging/internal/nats"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// envelope is the wire form of an event crossing nodes.
type envelope struct {
	Node    string          `json:"node"`
	Group   string          `json:"group"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// NATSBus extends a local Hub across nodes. Local members get events
// directly; every other node receives them over NATS and delivers to its
// own members.
type NATSBus struct {
	local  *Hub
	conn   *nats.Conn
	node   string
	sub    *nats.Subscription
	logger *logger.Logger
}

// NewNATSBus subscribes to all broadcast subjects and returns the bus.
func NewNATSBus(conn *nats.Conn, local *Hub, log *logger.Logger) (*NATSBus, error) {
	b := &NATSBus{
		local:  local,
		conn:   conn,
		node:   uuid.Must(uuid.NewV7()).String(),
		logger: log.Component("broadcast.nats"),
	}

	sub, err := conn.Subscribe(natsclient.BroadcastWildcard(), b.onMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to broadcast subjects: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Join adds sub to group on this node.
func (b *NATSBus) Join(group string, sub Subscriber) {
	b.local.Join(group, sub)
}

// Leave removes sub from group on this node.
func (b *NATSBus) Leave(group string, sub Subscriber) {
	b.local.Leave(group, sub)
}

// Publish delivers locally and forwards to the other nodes.
func (b *NATSBus) Publish(ctx context.Context, group string, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", ev.Name, err)
	}
	data, err := json.Marshal(envelope{
		Node:    b.node,
		Group:   group,
		Name:    ev.Name,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := b.local.Publish(ctx, group, ev); err != nil {
		return err
	}
	if err := b.conn.Publish(natsclient.BroadcastSubject(group), data); err != nil {
		return fmt.Errorf("failed to forward %s to %s: %w", ev.Name, group, err)
	}
	return nil
}

// Close stops receiving events from other nodes.
func (b *NATSBus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func (b *NATSBus) onMessage(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("malformed broadcast envelope", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.Node == b.node {
		return
	}
	_ = b.local.Publish(context.Background(), env.Group, Event{
		Name:    env.Name,
		Payload: env.Payload,
	})
}
