package services

import (
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("relay-service")

// RelayService routes inbound socket events to their handlers. Handlers for
// one session are called sequentially by the connection's read loop;
// different sessions call in concurrently.
type RelayService struct {
	log      *slog.Logger
	hub      contracts.Registry
	typing   contracts.TypingTracker
	users    domain.UserRepository
	convs    domain.ConversationRepository
	messages domain.MessageRepository
	tx       contracts.Transactor
	now      func() time.Time

	eventCounter   metric.Int64Counter
	droppedCounter metric.Int64Counter
}

func NewRelayService(
	log *slog.Logger,
	hub contracts.Registry,
	typing contracts.TypingTracker,
	users domain.UserRepository,
	convs domain.ConversationRepository,
	messages domain.MessageRepository,
	tx contracts.Transactor,
) *RelayService {
	meter := otel.Meter("relay-service")
	eventCounter, _ := meter.Int64Counter("relay_events_total",
		metric.WithDescription("Inbound socket events by name and outcome"))
	droppedCounter, _ := meter.Int64Counter("relay_dropped_total",
		metric.WithDescription("Live relays skipped because the recipient was offline"))
	return &RelayService{
		log:            log,
		hub:            hub,
		typing:         typing,
		users:          users,
		convs:          convs,
		messages:       messages,
		tx:             tx,
		now:            time.Now,
		eventCounter:   eventCounter,
		droppedCounter: droppedCounter,
	}
}

// HandleEvent decodes one raw frame and dispatches it.
func (r *RelayService) HandleEvent(ctx context.Context, sess contracts.Session, raw []byte) {
	env, err := domain.ParseEnvelope(raw)
	if err != nil {
		r.count(ctx, "invalid", "malformed")
		r.log.WarnContext(ctx, "relay - handle event - bad frame", logging.Conn(sess.ID()), logging.Err(err))
		return
	}
	ev, err := domain.DecodeEvent(env)
	if err != nil {
		r.count(ctx, env.Event, "malformed")
		r.log.WarnContext(ctx, "relay - handle event - rejected payload", logging.Conn(sess.ID()), logging.Event(env.Event), logging.Err(err))
		r.replyError(ctx, sess, env.Ack, "malformed_payload", err)
		return
	}
	r.Dispatch(ctx, sess, env.Ack, ev)
}

// Dispatch runs the handler for a decoded event.
func (r *RelayService) Dispatch(ctx context.Context, sess contracts.Session, ack string, ev domain.Event) {
	switch e := ev.(type) {
	case domain.UserConnected:
		r.HandleUserConnected(ctx, sess, ack, e)
	case domain.GetUserStatus:
		r.HandleGetUserStatus(ctx, sess, ack, e)
	case domain.SendMessage:
		r.HandleSendMessage(ctx, sess, ack, e)
	case domain.MessageRead:
		r.HandleMessageRead(ctx, sess, e)
	case domain.AddReaction:
		r.HandleAddReaction(ctx, sess, e)
	case domain.Typing:
		r.HandleTyping(ctx, sess, e)
	default:
		r.log.WarnContext(ctx, "relay - dispatch - no handler", logging.Event(ev.Name()))
	}
}

func (r *RelayService) HandleUserConnected(ctx context.Context, sess contracts.Session, ack string, ev domain.UserConnected) {
	if err := sess.Bind(ctx, ev.UserID); err != nil {
		r.count(ctx, ev.Name(), "rejected")
		r.log.WarnContext(ctx, "relay - user connected - bind failed", logging.Conn(sess.ID()), logging.User(ev.UserID), logging.Err(err))
		r.replyError(ctx, sess, ack, "bind_failed", err)
		return
	}
	r.count(ctx, ev.Name(), "ok")
	if ack != "" {
		_ = sess.Reply(ctx, ack, r.hub.Query(ev.UserID))
	}
}

// HandleGetUserStatus answers only the requester.
func (r *RelayService) HandleGetUserStatus(ctx context.Context, sess contracts.Session, ack string, ev domain.GetUserStatus) {
	status := r.hub.Query(ev.UserID)
	r.count(ctx, ev.Name(), "ok")
	if ack != "" {
		_ = sess.Reply(ctx, ack, status)
		return
	}
	_ = sess.Send(ctx, domain.EventUserStatus, status)
}

// HandleSendMessage persists the message and relays it to the receiver if
// connected. A persistence failure is reported to the sender and nothing is
// relayed.
func (r *RelayService) HandleSendMessage(ctx context.Context, sess contracts.Session, ack string, ev domain.SendMessage) {
	senderID, ok := r.boundUser(ctx, sess, ev)
	if !ok {
		return
	}
	ctx, span := tracer.Start(ctx, "RelayService.HandleSendMessage", trace.WithAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("receiver_id", ev.ReceiverID),
	))
	defer span.End()

	msg, err := newMessage(senderID, ev, r.now())
	if err != nil {
		r.count(ctx, ev.Name(), "malformed")
		r.log.WarnContext(ctx, "relay - send message - invalid message", logging.User(senderID), logging.Err(err))
		r.sendError(ctx, sess, ack, domain.ErrorPayload{Code: "invalid_message", Message: err.Error(), ClientMsgID: ev.ClientMsgID})
		return
	}
	if r.hub.IsOnline(ev.ReceiverID) {
		msg.Status = domain.StatusDelivered
	}
	err = r.withTx(ctx, func(txCtx context.Context) error {
		conv, err := r.convs.FindOrCreateConversation(txCtx, senderID, ev.ReceiverID)
		if err != nil {
			return err
		}
		if msg.ConversationID != "" && msg.ConversationID != conv.ID {
			return domain.ErrConversationMismatch
		}
		msg.ConversationID = conv.ID
		if err := r.messages.SaveMessage(txCtx, msg); err != nil {
			return err
		}
		// only text becomes the conversation preview
		lastID := ""
		if msg.ContentType == domain.ContentText {
			lastID = msg.ID
		}
		return r.convs.TouchLastMessage(txCtx, msg.ConversationID, lastID)
	})
	switch {
	case errors.Is(err, domain.ErrConversationMismatch):
		r.count(ctx, ev.Name(), "malformed")
		r.log.WarnContext(ctx, "relay - send message - conversation mismatch", logging.User(senderID), logging.Receiver(ev.ReceiverID), logging.Conversation(ev.ConversationID))
		r.sendError(ctx, sess, ack, domain.ErrorPayload{Code: "invalid_message", Message: err.Error(), ClientMsgID: ev.ClientMsgID})
		return
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message failed")
		r.count(ctx, ev.Name(), "persist_failed")
		r.log.ErrorContext(ctx, "relay - send message - persist failed", logging.User(senderID), logging.Receiver(ev.ReceiverID), logging.Err(err))
		r.sendError(ctx, sess, ack, domain.ErrorPayload{Code: "persist_failed", Message: "Failed to send message", ClientMsgID: ev.ClientMsgID})
		return
	}
	span.SetAttributes(attribute.String("message_id", msg.ID), attribute.String("conversation_id", msg.ConversationID))

	sender, receiver := r.summaries(ctx, senderID, ev.ReceiverID)
	view := domain.NewMessageView(msg, sender, receiver)
	view.ClientMsgID = ev.ClientMsgID
	if !r.hub.Emit(ctx, ev.ReceiverID, domain.EventReceiveMessage, view) {
		r.dropped(ctx, domain.EventReceiveMessage)
		if msg.Status == domain.StatusDelivered {
			// receiver left between the presence check and the relay
			if err := r.messages.UpdateMessageStatus(ctx, []string{msg.ID}, domain.StatusSent); err != nil {
				r.log.ErrorContext(ctx, "relay - send message - status downgrade failed", logging.Message(msg.ID), logging.Err(err))
			}
			view.Status = domain.StatusSent
		}
	}
	r.count(ctx, ev.Name(), "ok")
	r.log.InfoContext(ctx, "relay - send message - message accepted", logging.Message(msg.ID), logging.Conversation(msg.ConversationID), slog.String("status", string(view.Status)))

	if ack != "" {
		_ = sess.Reply(ctx, ack, view)
		return
	}
	_ = sess.Send(ctx, domain.EventMessageSent, view)
}

// HandleMessageRead marks the messages read and tells the original sender,
// one status update per message.
func (r *RelayService) HandleMessageRead(ctx context.Context, sess contracts.Session, ev domain.MessageRead) {
	readerID, ok := r.boundUser(ctx, sess, ev)
	if !ok {
		return
	}
	ctx, span := tracer.Start(ctx, "RelayService.HandleMessageRead", trace.WithAttributes(
		attribute.String("reader_id", readerID),
		attribute.String("sender_id", ev.SenderID),
		attribute.Int("message_count", len(ev.MessageIDs)),
	))
	defer span.End()

	updated, err := r.messages.MarkMessagesRead(ctx, ev.MessageIDs, readerID, ev.SenderID)
	if err != nil {
		span.RecordError(err)
		r.count(ctx, ev.Name(), "persist_failed")
		r.log.ErrorContext(ctx, "relay - message read - update status failed", logging.User(readerID), logging.Err(err))
		return
	}
	if skipped := len(ev.MessageIDs) - len(updated); skipped > 0 {
		r.log.WarnContext(ctx, "relay - message read - ids not addressed to reader", logging.User(readerID), slog.String("sender_id", ev.SenderID), slog.Int("skipped", skipped))
	}
	r.count(ctx, ev.Name(), "ok")
	if len(updated) == 0 {
		return
	}
	if !r.hub.IsOnline(ev.SenderID) {
		r.dropped(ctx, domain.EventMessageStatusUpdate)
		return
	}
	for _, id := range updated {
		if !r.hub.Emit(ctx, ev.SenderID, domain.EventMessageStatusUpdate, domain.StatusUpdate{MessageID: id, Status: domain.StatusRead}) {
			r.dropped(ctx, domain.EventMessageStatusUpdate)
			return
		}
	}
}

// HandleAddReaction toggles the session user's reaction and pushes the new
// reaction list to both participants of the message.
func (r *RelayService) HandleAddReaction(ctx context.Context, sess contracts.Session, ev domain.AddReaction) {
	userID, ok := r.boundUser(ctx, sess, ev)
	if !ok {
		return
	}
	if ev.UserID != "" && ev.UserID != userID {
		r.log.WarnContext(ctx, "relay - add reaction - payload user ignored", logging.User(userID), slog.String("payload_user_id", ev.UserID))
	}
	ctx, span := tracer.Start(ctx, "RelayService.HandleAddReaction", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("message_id", ev.MessageID),
	))
	defer span.End()

	var msg *domain.Message
	var change domain.ReactionChange
	err := r.withTx(ctx, func(txCtx context.Context) error {
		var err error
		if msg, err = r.messages.FindMessageByID(txCtx, ev.MessageID); err != nil {
			return err
		}
		if userID != msg.SenderID && userID != msg.ReceiverID {
			return domain.ErrNotParticipant
		}
		msg.Reactions, change = domain.ToggleReaction(msg.Reactions, userID, ev.Emoji, r.now())
		return r.messages.SaveReactions(txCtx, msg.ID, msg.Reactions)
	})
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		r.count(ctx, ev.Name(), "not_found")
		r.log.DebugContext(ctx, "relay - add reaction - message not found", logging.Message(ev.MessageID))
		return
	case errors.Is(err, domain.ErrNotParticipant):
		r.count(ctx, ev.Name(), "rejected")
		r.log.WarnContext(ctx, "relay - add reaction - not a participant", logging.Message(ev.MessageID), logging.User(userID))
		return
	case err != nil:
		span.RecordError(err)
		r.count(ctx, ev.Name(), "persist_failed")
		r.log.ErrorContext(ctx, "relay - add reaction - persist failed", logging.Message(ev.MessageID), logging.User(userID), logging.Err(err))
		return
	}
	r.count(ctx, ev.Name(), "ok")
	r.log.InfoContext(ctx, "relay - add reaction - reaction "+change.String(), logging.Message(msg.ID), logging.User(userID))

	update := domain.ReactionUpdate{MessageID: msg.ID, Reactions: msg.Reactions}
	if update.Reactions == nil {
		update.Reactions = []domain.Reaction{}
	}
	for _, target := range participants(msg) {
		if !r.hub.Emit(ctx, target, domain.EventReactionUpdate, update) {
			r.dropped(ctx, domain.EventReactionUpdate)
		}
	}
}

func (r *RelayService) HandleTyping(ctx context.Context, sess contracts.Session, ev domain.Typing) {
	userID, ok := r.boundUser(ctx, sess, ev)
	if !ok {
		return
	}
	if ev.Start {
		r.typing.Start(ctx, userID, ev.ConversationID, ev.ReceiverID)
	} else {
		r.typing.Stop(ctx, userID, ev.ConversationID, ev.ReceiverID)
	}
	r.count(ctx, ev.Name(), "ok")
}

func (r *RelayService) boundUser(ctx context.Context, sess contracts.Session, ev domain.Event) (string, bool) {
	userID, ok := sess.UserID()
	if !ok {
		r.count(ctx, ev.Name(), "unbound")
		r.log.DebugContext(ctx, "relay - handle event - session not bound", logging.Conn(sess.ID()), logging.Event(ev.Name()))
	}
	return userID, ok
}

func (r *RelayService) summaries(ctx context.Context, senderID, receiverID string) (domain.UserSummary, domain.UserSummary) {
	sender := domain.UserSummary{ID: senderID}
	receiver := domain.UserSummary{ID: receiverID}
	users, err := r.users.FindUsers(ctx, []string{senderID, receiverID})
	if err != nil {
		r.log.WarnContext(ctx, "relay - send message - load display fields failed", logging.User(senderID), logging.Err(err))
		return sender, receiver
	}
	if u, ok := users[senderID]; ok {
		sender = u.Summary()
	}
	if u, ok := users[receiverID]; ok {
		receiver = u.Summary()
	}
	return sender, receiver
}

func (r *RelayService) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.tx == nil {
		return fn(ctx)
	}
	return r.tx.WithTx(ctx, fn)
}

func (r *RelayService) sendError(ctx context.Context, sess contracts.Session, ack string, payload domain.ErrorPayload) {
	if ack != "" {
		_ = sess.Reply(ctx, ack, payload)
		return
	}
	_ = sess.Send(ctx, domain.EventMessageError, payload)
}

func (r *RelayService) replyError(ctx context.Context, sess contracts.Session, ack, code string, err error) {
	if ack == "" {
		return
	}
	_ = sess.Reply(ctx, ack, domain.ErrorPayload{Code: code, Message: err.Error()})
}

func (r *RelayService) count(ctx context.Context, event, outcome string) {
	r.eventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func (r *RelayService) dropped(ctx context.Context, event string) {
	r.droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func newMessage(senderID string, ev domain.SendMessage, now time.Time) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: ev.ConversationID,
		SenderID:       senderID,
		ReceiverID:     ev.ReceiverID,
		Content:        ev.Content,
		MediaURL:       strings.TrimSpace(ev.MediaURL),
		Status:         domain.StatusSent,
		CreatedAt:      now,
	}
	if msg.MediaURL != "" {
		switch ev.ContentType {
		case domain.ContentImage, domain.ContentVideo:
			msg.ContentType = ev.ContentType
		default:
			return nil, domain.ErrInvalidContentType
		}
		return msg, nil
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil, domain.ErrEmptyMessage
	}
	msg.ContentType = domain.ContentText
	return msg, nil
}

func participants(msg *domain.Message) []string {
	if msg.SenderID == msg.ReceiverID {
		return []string{msg.SenderID}
	}
	return []string{msg.SenderID, msg.ReceiverID}
}
