package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/internal/session"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// Application close codes sent after the upgrade when a connection is
// refused.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseNotFound        = 4004
)

// liveSession is what the pumps drive. session.Chat and session.List
// implement it.
type liveSession interface {
	Open(ctx context.Context) error
	Handle(ctx context.Context, data []byte)
	Touch(ctx context.Context)
	Outbound() <-chan []byte
	Done() <-chan struct{}
	Close(ctx context.Context)
}

// WSHandler upgrades websocket connections into chat and list sessions.
type WSHandler struct {
	auth          *middleware.Authenticator
	conversations *service.ConversationService
	messages      *service.MessageService
	presence      presence.Store
	bus           broadcast.Bus
	cfg           session.Config
	upgrader      websocket.Upgrader
	logger        *logger.Logger
}

// NewWSHandler creates a websocket handler. An empty or "*" origin list
// accepts any origin.
func NewWSHandler(
	auth *middleware.Authenticator,
	convs *service.ConversationService,
	msgs *service.MessageService,
	ps presence.Store,
	bus broadcast.Bus,
	cfg session.Config,
	allowedOrigins []string,
	log *logger.Logger,
) *WSHandler {
	return &WSHandler{
		auth:          auth,
		conversations: convs,
		messages:      msgs,
		presence:      ps,
		bus:           bus,
		cfg:           cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: log.Component("ws"),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// tokenFromRequest reads the credential from ?token= or a Bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// Chat handles GET /ws/chat/{conversation_id}
func (h *WSHandler) Chat(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx := context.WithoutCancel(r.Context())

	user, err := h.auth.Authenticate(ctx, tokenFromRequest(r))
	if err != nil {
		h.refuse(conn, CloseUnauthenticated, err)
		return
	}

	conversationID := chi.URLParam(r, "conversation_id")
	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		h.refuse(conn, CloseNotFound, apperr.ErrConversationNotFound)
		return
	}
	if _, err := h.conversations.Get(ctx, user.ID, conversationID); err != nil {
		h.refuse(conn, closeCodeFor(err), err)
		return
	}

	sess := session.NewChat(user, conversationID, h.messages, h.presence, h.bus, h.cfg, h.logger)
	h.serve(ctx, conn, sess)
}

// Conversations handles GET /ws/conversations
func (h *WSHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx := context.WithoutCancel(r.Context())

	user, err := h.auth.Authenticate(ctx, tokenFromRequest(r))
	if err != nil {
		h.refuse(conn, CloseUnauthenticated, err)
		return
	}

	sess := session.NewList(user, h.presence, h.bus, h.cfg, h.logger)
	h.serve(ctx, conn, sess)
}

func closeCodeFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return CloseNotFound
	case apperr.KindPermissionDenied:
		return CloseForbidden
	case apperr.KindUnauthenticated:
		return CloseUnauthenticated
	default:
		return websocket.CloseInternalServerErr
	}
}

// refuse closes a freshly upgraded connection with code.
func (h *WSHandler) refuse(conn *websocket.Conn, code int, err error) {
	h.logger.Info("websocket refused", zap.Int("close_code", code), zap.Error(err))
	msg := websocket.FormatCloseMessage(code, apperr.Message(err))
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// serve opens sess and runs its pumps until either side closes.
func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn, sess liveSession) {
	if err := sess.Open(ctx); err != nil {
		h.refuse(conn, websocket.CloseInternalServerErr, err)
		return
	}
	go h.writePump(conn, sess)
	h.readPump(ctx, conn, sess)
}

// readPump hands each inbound frame to the session in arrival order.
func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, sess liveSession) {
	defer sess.Close(ctx)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		sess.Touch(ctx)
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		sess.Handle(ctx, data)
	}
}

// writePump drains the session's outbound queue and keeps the connection
// alive with pings.
func (h *WSHandler) writePump(conn *websocket.Conn, sess liveSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sess.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

var (
	_ liveSession = (*session.Chat)(nil)
	_ liveSession = (*session.List)(nil)
)
