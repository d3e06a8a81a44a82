package model

import (
	"time"
)

// NotificationStatus is the lifecycle state of an email reminder.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationSent || s == NotificationCancelled
}

// EmailNotification is a scheduled email reminder for one unread message.
type EmailNotification struct {
	ID              string             `json:"id"`
	MessageID       string             `json:"message_id"`
	RecipientID     string             `json:"recipient_id"`
	RecipientEmail  string             `json:"recipient_email"`
	Status          NotificationStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	ScheduledFor    time.Time          `json:"scheduled_for"`
	SentAt          *time.Time         `json:"sent_at,omitempty"`
	Subject         string             `json:"subject"`
	Body            string             `json:"body"`
	TaskID          string             `json:"task_id,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	RetryCount      int                `json:"retry_count"`
	MaxRetries      int                `json:"max_retries"`
	IsFirstReminder bool               `json:"is_first_reminder"`
	IsFollowUp      bool               `json:"is_follow_up"`
}

// Kind labels the reminder for logs and metrics.
func (n *EmailNotification) Kind() string {
	if n.IsFollowUp {
		return "follow_up"
	}
	return "first"
}

// Clone returns a deep copy.
func (n *EmailNotification) Clone() *EmailNotification {
	out := *n
	if n.SentAt != nil {
		at := *n.SentAt
		out.SentAt = &at
	}
	return &out
}
