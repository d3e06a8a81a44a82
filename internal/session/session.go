// Package session implements the per-connection protocol state machines:
// the chat session bound to one conversation and the list session bound to
// one user. Sessions are transport agnostic; the websocket handler pumps
// frames in through Handle and out through Outbound.
package session

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

const (
	KindChat = "chat"
	KindList = "list"
)

// Config tunes a session.
type Config struct {
	// SendBuffer is the outbound frame queue length. A session whose queue
	// is full drops broadcast frames.
	SendBuffer int
	// EventsPerSecond and Burst bound inbound chat events.
	EventsPerSecond float64
	Burst           int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{SendBuffer: 256, EventsPerSecond: 10, Burst: 20}
}

// base is the outbound side shared by both session kinds.
type base struct {
	id     string
	kind   string
	user   *model.User
	logger *logger.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newBase(kind string, user *model.User, cfg Config, log *logger.Logger) base {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	id := uuid.Must(uuid.NewV7()).String()
	return base{
		id:     id,
		kind:   kind,
		user:   user,
		logger: log.WithSession(id, user.ID).With(zap.String("session_kind", kind)),
		out:    make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the session id.
func (b *base) ID() string { return b.id }

// User returns the authenticated user.
func (b *base) User() *model.User { return b.user }

// Outbound yields encoded frames for the transport to write.
func (b *base) Outbound() <-chan []byte { return b.out }

// Done is closed when the session is closed.
func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) markClosed() bool {
	closed := false
	b.closeOnce.Do(func() {
		close(b.done)
		closed = true
	})
	return closed
}

// send queues v without blocking. It reports false when the session is
// closed or its queue is full.
func (b *base) send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to encode frame", zap.Error(err))
		return false
	}

	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.out <- data:
		return true
	default:
		return false
	}
}

// sendError returns err to this connection only.
func (b *base) sendError(action string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		b.logger.Error("event failed", zap.String("action", action), zap.Error(err))
	} else {
		b.logger.Debug("event rejected", zap.String("action", action), zap.Error(err))
	}
	metrics.RecordInboundEvent(action, string(kind))

	b.send(model.ErrorFrame{Error: apperr.Message(err), Code: string(kind)})
}
