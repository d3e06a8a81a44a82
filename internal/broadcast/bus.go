// Package broadcast fans events out to named groups of live sessions.
package broadcast

import (
	"context"
)

// Event is a named payload published to a group. Subscribers render it with
// their own handler for Name and ignore names they do not handle.
type Event struct {
	Name    string
	Payload any
}

// Subscriber receives group events. Deliver must not block; it returns
// false when the event was dropped.
type Subscriber interface {
	Deliver(ev Event) bool
}

// Bus is a best-effort, at-most-once group fan-out with no replay.
type Bus interface {
	Join(group string, sub Subscriber)
	Leave(group string, sub Subscriber)
	Publish(ctx context.Context, group string, ev Event) error
}

// ConversationGroup names the group carrying message-level events.
func ConversationGroup(conversationID string) string {
	return "chat_" + conversationID
}

// UserGroup names the group carrying a user's list and badge events.
func UserGroup(userID string) string {
	return "user_conversations_" + userID
}
