package apperr

var (
	ErrUserNotFound         = NotFound("User not found")
	ErrConversationNotFound = NotFound("Conversation not found")
	ErrMessageNotFound      = NotFound("Message not found")
	ErrNotificationNotFound = NotFound("Notification not found")

	ErrSenderRequired      = Validation("sender_username is required")
	ErrContentRequired     = Validation("content is required for text messages")
	ErrContentTooLong      = Validation("content exceeds maximum length")
	ErrContentNotUTF8      = Validation("content must be valid UTF-8")
	ErrAudioRequired       = Validation("audio_data_base64 is required for audio messages")
	ErrInvalidAudio        = Validation("audio_data_base64 is not valid base64")
	ErrUnknownMessageType  = Validation("message_type must be text or audio")
	ErrUnknownAction       = Validation("unknown action_type")
	ErrMalformedEvent      = Validation("malformed event")
	ErrEditFieldsMissing   = Validation("Missing required fields for editing message")
	ErrDeleteFieldsMissing = Validation("Missing required fields for deleting message")
	ErrReadFieldsMissing   = Validation("Missing required fields for marking messages read")
	ErrOnlyTextEditable    = Validation("Only text messages can be edited")
	ErrInvalidParticipants = Validation("a conversation requires exactly two distinct participants")

	ErrEditForbidden       = Forbidden("You do not have permission to edit this message")
	ErrDeleteForbidden     = Forbidden("You do not have permission to delete this message")
	ErrNotParticipant      = Forbidden("You are not a participant of this conversation")
	ErrIdentityMismatch    = Forbidden("Username does not match the authenticated user")
	ErrInvalidCredentials  = Unauthenticated("invalid or missing credentials")
	ErrInboundRateExceeded = RateLimited("rate limit exceeded")
)
