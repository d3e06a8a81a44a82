package model

// ActionType names an inbound chat session request.
type ActionType string

const (
	ActionSend       ActionType = "send"
	ActionEdit       ActionType = "edit"
	ActionDelete     ActionType = "delete"
	ActionTyping     ActionType = "typing"
	ActionStopTyping ActionType = "stop_typing"
	ActionMarkRead   ActionType = "mark_read"
)

// InboundEvent is a client request on a chat session. ActionType defaults
// to send when absent.
type InboundEvent struct {
	ActionType      ActionType  `json:"action_type"`
	SenderUsername  string      `json:"sender_username"`
	Content         *string     `json:"content"`
	MessageType     MessageType `json:"message_type"`
	AudioDataBase64 string      `json:"audio_data_base64"`
	MessageID       string      `json:"message_id"`
	MessageIDs      []string    `json:"message_ids"`
	ReaderUsername  string      `json:"reader_username"`
}

// ListInboundEvent is a client frame on a conversation-list session.
type ListInboundEvent struct {
	Type string `json:"type"`
}

// Broadcast event names. A session renders only the names it handles.
const (
	EventChatMessage        = "chat_message"
	EventTypingIndicator    = "typing_indicator"
	EventReadReceipt        = "read_receipt"
	EventConversationUpdate = "conversation_update"
	EventConversationDelete = "conversation_delete"
	EventNotificationCount  = "notification_count_update"
)

// DeleteFrame confirms a message deletion to the conversation group.
type DeleteFrame struct {
	ActionType     string `json:"action_type"`
	ID             string `json:"id"`
	SenderUsername string `json:"sender_username"`
}

// TypingFrame is a typing indicator.
type TypingFrame struct {
	ActionType string `json:"action_type"`
	Username   string `json:"username"`
	IsTyping   bool   `json:"is_typing"`
}

// ReadReceiptFrame tells the conversation a message was read.
type ReadReceiptFrame struct {
	ActionType     string `json:"action_type"`
	MessageID      string `json:"message_id"`
	ReaderUsername string `json:"reader_username"`
}

// ConversationUpdateFrame carries a new or changed conversation.
type ConversationUpdateFrame struct {
	Type         string            `json:"type"`
	Conversation *ConversationView `json:"conversation"`
	IsNew        bool              `json:"is_new"`
}

// ConversationDeleteFrame removes a conversation from a user's list.
type ConversationDeleteFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// NotificationCountFrame pushes the unread badge state.
type NotificationCountFrame struct {
	Type string `json:"type"`
	UnreadCounts
}

// PongFrame answers a list session ping.
type PongFrame struct {
	Type string `json:"type"`
}

// ErrorFrame is returned only to the connection that caused the error.
type ErrorFrame struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
