package domain

import "errors"

var (
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrMessageNotFound       = errors.New("message not found")
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationMismatch  = errors.New("conversation does not belong to sender and receiver")
	ErrNotParticipant        = errors.New("user is not a participant of the message")
	ErrEmptyMessage          = errors.New("text message cannot be empty")
	ErrInvalidContentType    = errors.New("only image or video media is allowed")
	ErrInvalidStatus         = errors.New("invalid message status")
	ErrEmptyEmoji            = errors.New("emoji is required")
	ErrUnknownEvent          = errors.New("unknown event")
	ErrMalformedPayload      = errors.New("malformed event payload")
)
