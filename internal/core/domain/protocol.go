package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound events
const (
	EventUserConnected = "user_connected"
	EventSendMessage   = "send_message"
	EventMessageRead   = "message_read"
	EventAddReaction   = "add_reaction"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventGetUserStatus = "get_user_status"
)

// Outbound events
const (
	EventUserStatus          = "user_status"
	EventReceiveMessage      = "receive_message"
	EventMessageSent         = "message_sent"
	EventMessageError        = "message_error"
	EventMessageStatusUpdate = "message_status_update"
	EventUserTyping          = "user_typing"
	EventReactionUpdate      = "reaction_update"
	EventAck                 = "ack"
	EventError               = "error"
)

// Envelope is the frame exchanged over the socket in both directions. Ack
// carries the request id of a request/callback exchange; the reply reuses
// it with Event set to "ack".
type Envelope struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedPayload)
	}
	return env, nil
}

// Encode builds an outbound frame.
func Encode(event, ack string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Ack: ack, Data: data})
}

// Event is a decoded inbound event. The concrete types below are the only
// implementations.
type Event interface {
	Name() string
}

type UserConnected struct {
	UserID string
}

type SendMessage struct {
	ClientMsgID    string      `json:"clientMsgId"`
	ConversationID string      `json:"conversationId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	MediaURL       string      `json:"imageOrVideoUrl"`
	ContentType    ContentType `json:"contentType"`
}

type MessageRead struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

type AddReaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

type Typing struct {
	Start          bool   `json:"-"`
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

type GetUserStatus struct {
	UserID string
}

func (UserConnected) Name() string { return EventUserConnected }
func (SendMessage) Name() string   { return EventSendMessage }
func (MessageRead) Name() string   { return EventMessageRead }
func (AddReaction) Name() string   { return EventAddReaction }
func (GetUserStatus) Name() string { return EventGetUserStatus }
func (t Typing) Name() string {
	if t.Start {
		return EventTypingStart
	}
	return EventTypingStop
}

// DecodeEvent turns an envelope into its typed event. Payloads missing the
// identifiers an event needs are rejected with ErrMalformedPayload.
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EventUserConnected:
		id, err := decodeUserRef(env.Data)
		if err != nil {
			return nil, err
		}
		return UserConnected{UserID: id}, nil
	case EventGetUserStatus:
		id, err := decodeUserRef(env.Data)
		if err != nil {
			return nil, err
		}
		return GetUserStatus{UserID: id}, nil
	case EventSendMessage:
		var ev SendMessage
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.ReceiverID == "" {
			return nil, fmt.Errorf("%w: receiverId is required", ErrMalformedPayload)
		}
		return ev, nil
	case EventMessageRead:
		var ev MessageRead
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		ev.MessageIDs = compactIDs(ev.MessageIDs)
		if len(ev.MessageIDs) == 0 || ev.SenderID == "" {
			return nil, fmt.Errorf("%w: messageIds and senderId are required", ErrMalformedPayload)
		}
		return ev, nil
	case EventAddReaction:
		var ev AddReaction
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.MessageID == "" || ev.Emoji == "" {
			return nil, fmt.Errorf("%w: messageId and emoji are required", ErrMalformedPayload)
		}
		return ev, nil
	case EventTypingStart, EventTypingStop:
		var ev Typing
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.ConversationID == "" || ev.ReceiverID == "" {
			return nil, fmt.Errorf("%w: conversationId and receiverId are required", ErrMalformedPayload)
		}
		ev.Start = env.Event == EventTypingStart
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// decodeUserRef accepts either a bare JSON string or {"userId": "..."}.
func decodeUserRef(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		id = obj.UserID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}
	return id, nil
}

func compactIDs(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Outbound payloads

// MessageView is a message with populated sender/receiver display fields.
type MessageView struct {
	ID             string        `json:"id"`
	ClientMsgID    string        `json:"clientMsgId,omitempty"`
	ConversationID string        `json:"conversationId"`
	Sender         UserSummary   `json:"sender"`
	Receiver       UserSummary   `json:"receiver"`
	Content        string        `json:"content,omitempty"`
	MediaURL       string        `json:"imageOrVideoUrl,omitempty"`
	ContentType    ContentType   `json:"contentType"`
	Status         MessageStatus `json:"messageStatus"`
	Reactions      []Reaction    `json:"reactions"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func NewMessageView(m *Message, sender, receiver UserSummary) MessageView {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		ContentType:    m.ContentType,
		Status:         m.Status,
		Reactions:      reactions,
		CreatedAt:      m.CreatedAt,
	}
}

type StatusUpdate struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"messageStatus"`
}

type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type ReactionUpdate struct {
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// ErrorPayload is a socket-safe error.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"error"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}
