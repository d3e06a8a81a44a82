package store

import (
	"time"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

type userRow struct {
	ID             string `gorm:"type:varchar(64);primaryKey"`
	Username       string `gorm:"type:varchar(150);uniqueIndex;not null"`
	Email          string `gorm:"type:varchar(254)"`
	DisplayName    string `gorm:"type:varchar(150)"`
	ProfilePicture string `gorm:"type:varchar(512)"`
}

func (userRow) TableName() string { return "users" }

type conversationRow struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	UserA     string    `gorm:"type:varchar(64);uniqueIndex:idx_conversation_pair;not null"`
	UserB     string    `gorm:"type:varchar(64);uniqueIndex:idx_conversation_pair;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"index;not null"`

	Participants []participantRow `gorm:"foreignKey:ConversationID"`
}

func (conversationRow) TableName() string { return "conversations" }

type participantRow struct {
	ConversationID string     `gorm:"type:varchar(64);primaryKey"`
	UserID         string     `gorm:"type:varchar(64);primaryKey;index"`
	Position       int        `gorm:"not null"`
	Deleted        bool       `gorm:"not null;default:false"`
	DeletedAt      *time.Time `gorm:"column:deleted_at"`
}

func (participantRow) TableName() string { return "conversation_participants" }

type messageRow struct {
	ID             string     `gorm:"type:varchar(64);primaryKey"`
	ConversationID string     `gorm:"type:varchar(64);index:idx_message_conversation_created;not null"`
	SenderID       string     `gorm:"type:varchar(64);not null"`
	RecipientID    string     `gorm:"type:varchar(64);index:idx_message_recipient_read;not null"`
	MessageType    string     `gorm:"type:varchar(10);not null;default:'text'"`
	Content        string     `gorm:"type:text"`
	Audio          []byte     `gorm:"type:bytea"`
	IsDelivered    bool       `gorm:"not null;default:false"`
	IsRead         bool       `gorm:"index:idx_message_recipient_read;not null;default:false"`
	CreatedAt      time.Time  `gorm:"index:idx_message_conversation_created;not null"`
	EditedAt       *time.Time `gorm:"column:edited_at"`
}

func (messageRow) TableName() string { return "messages" }

type notificationRow struct {
	ID              string     `gorm:"type:varchar(64);primaryKey"`
	MessageID       string     `gorm:"type:varchar(64);index;not null"`
	RecipientID     string     `gorm:"type:varchar(64);not null"`
	RecipientEmail  string     `gorm:"type:varchar(254);not null"`
	Status          string     `gorm:"type:varchar(20);index;not null;default:'pending'"`
	CreatedAt       time.Time  `gorm:"index;not null"`
	ScheduledFor    time.Time  `gorm:"not null"`
	SentAt          *time.Time `gorm:"column:sent_at"`
	Subject         string     `gorm:"type:varchar(255)"`
	Body            string     `gorm:"type:text"`
	TaskID          string     `gorm:"type:varchar(255)"`
	ErrorMessage    string     `gorm:"type:text"`
	RetryCount      int        `gorm:"not null;default:0"`
	MaxRetries      int        `gorm:"not null;default:3"`
	IsFirstReminder bool       `gorm:"not null;default:false"`
	IsFollowUp      bool       `gorm:"not null;default:false"`
}

func (notificationRow) TableName() string { return "email_notifications" }

func newUserRow(u *model.User) *userRow {
	return &userRow{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		ProfilePicture: u.ProfilePicture,
	}
}

func (r *userRow) toModel() *model.User {
	return &model.User{
		ID:             r.ID,
		Username:       r.Username,
		Email:          r.Email,
		DisplayName:    r.DisplayName,
		ProfilePicture: r.ProfilePicture,
	}
}

func (r *conversationRow) toModel() *model.Conversation {
	conv := &model.Conversation{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	parts := make([]model.Participant, 2)
	for _, p := range r.Participants {
		if p.Position < 0 || p.Position > 1 {
			continue
		}
		parts[p.Position] = model.Participant{
			UserID:    p.UserID,
			Deleted:   p.Deleted,
			DeletedAt: p.DeletedAt,
		}
	}
	conv.Participants = parts
	return conv
}

func newMessageRow(m *model.Message) *messageRow {
	return &messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		MessageType:    string(m.Type),
		Content:        m.Content,
		Audio:          m.Audio,
		IsDelivered:    m.IsDelivered,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
}

func (r *messageRow) toModel() *model.Message {
	return &model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		Type:           model.MessageType(r.MessageType),
		Content:        r.Content,
		Audio:          r.Audio,
		IsDelivered:    r.IsDelivered,
		IsRead:         r.IsRead,
		CreatedAt:      r.CreatedAt,
		EditedAt:       r.EditedAt,
	}
}

func newNotificationRow(n *model.EmailNotification) *notificationRow {
	return &notificationRow{
		ID:              n.ID,
		MessageID:       n.MessageID,
		RecipientID:     n.RecipientID,
		RecipientEmail:  n.RecipientEmail,
		Status:          string(n.Status),
		CreatedAt:       n.CreatedAt,
		ScheduledFor:    n.ScheduledFor,
		SentAt:          n.SentAt,
		Subject:         n.Subject,
		Body:            n.Body,
		TaskID:          n.TaskID,
		ErrorMessage:    n.ErrorMessage,
		RetryCount:      n.RetryCount,
		MaxRetries:      n.MaxRetries,
		IsFirstReminder: n.IsFirstReminder,
		IsFollowUp:      n.IsFollowUp,
	}
}

func (r *notificationRow) toModel() *model.EmailNotification {
	return &model.EmailNotification{
		ID:              r.ID,
		MessageID:       r.MessageID,
		RecipientID:     r.RecipientID,
		RecipientEmail:  r.RecipientEmail,
		Status:          model.NotificationStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		ScheduledFor:    r.ScheduledFor,
		SentAt:          r.SentAt,
		Subject:         r.Subject,
		Body:            r.Body,
		TaskID:          r.TaskID,
		ErrorMessage:    r.ErrorMessage,
		RetryCount:      r.RetryCount,
		MaxRetries:      r.MaxRetries,
		IsFirstReminder: r.IsFirstReminder,
		IsFollowUp:      r.IsFollowUp,
	}
}
