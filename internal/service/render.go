package service

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/media"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// Renderer turns stored entities into wire views.
type Renderer struct {
	users    store.UserStore
	presence presence.Store
	media    media.Resolver
	logger   *logger.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(users store.UserStore, ps presence.Store, resolver media.Resolver, log *logger.Logger) *Renderer {
	return &Renderer{users: users, presence: ps, media: resolver, logger: log.Component("render")}
}

func (r *Renderer) pictureURL(ctx context.Context, ref string) string {
	if ref == "" {
		return ""
	}
	url, err := r.media.URL(ctx, ref)
	if err != nil {
		r.logger.Warn("failed to resolve media url", zap.String("ref", ref), zap.Error(err))
		return ""
	}
	return url
}

// User renders a participant with presence.
func (r *Renderer) User(ctx context.Context, userID string) (model.UserView, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return model.UserView{}, err
	}
	view := model.UserView{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.Name(),
		ProfilePicture: r.pictureURL(ctx, u.ProfilePicture),
	}

	p, err := r.presence.Get(ctx, u.ID)
	if err != nil {
		r.logger.Warn("presence lookup failed", zap.String("user_id", u.ID), zap.Error(err))
		return view, nil
	}
	view.IsOnline = p.Online
	if !p.LastSeen.IsZero() {
		seen := p.LastSeen
		view.LastSeen = &seen
	}
	return view, nil
}

// Message renders msg. action is empty for plain history rendering.
func (r *Renderer) Message(ctx context.Context, msg *model.Message, action model.ActionType) (*model.MessageView, error) {
	sender, err := r.users.GetUser(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	view := &model.MessageView{
		ActionType:           string(action),
		ID:                   msg.ID,
		ConversationID:       msg.ConversationID,
		Content:              msg.Content,
		SenderUsername:       sender.Username,
		Timestamp:            msg.CreatedAt,
		IsDelivered:          msg.IsDelivered,
		IsRead:               msg.IsRead,
		SenderProfilePicture: r.pictureURL(ctx, sender.ProfilePicture),
		MessageType:          msg.Type,
		Edited:               msg.EditedAt != nil,
	}

	if recipient, err := r.users.GetUser(ctx, msg.RecipientID); err == nil {
		view.RecipientProfilePicture = r.pictureURL(ctx, recipient.ProfilePicture)
	}
	if msg.Type == model.MessageTypeAudio && len(msg.Audio) > 0 {
		view.AudioDataBase64 = base64.StdEncoding.EncodeToString(msg.Audio)
	}
	return view, nil
}
