package handlers

import (
	"context"
	"net/http"

	"chatrelay/internal/app/server/ws"
	"chatrelay/internal/app/session"
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/services"
	"chatrelay/pkg/logging"
	"chatrelay/pkg/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	hub      contracts.Registry
	typing   contracts.TypingTracker
	relay    *services.RelayService
	upgrader websocket.Upgrader
}

func NewWSHandler(hub contracts.Registry, typing contracts.TypingTracker, relay *services.RelayService) *WSHandler {
	return &WSHandler{
		hub:    hub,
		typing: typing,
		relay:  relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler upgrades the request and serves one session until the peer
// disconnects. Frames are handled in arrival order on this goroutine.
func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	var opts []session.Option
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		opts = append(opts, session.WithExpectedUser(userID))
		span.SetAttributes(attribute.String("user.id", userID))
		log = log.With(logging.User(userID))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	// the session outlives the upgrade request
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	ctx = logging.WithContext(ctx, log)

	socket := ws.NewWebSocket(ctx, conn)
	client := ws.NewClient(ctx, socket, log)
	sess := session.New(client, h.hub, h.typing, log, opts...)
	defer sess.Close(ctx)

	span.SetAttributes(attribute.String("chat.conn_id", client.ID()))
	log.InfoContext(ctx, "ws handler - connection established", logging.Conn(client.ID()))

	socket.ReadLoop(log, func(data []byte) {
		h.relay.HandleEvent(ctx, sess, data)
	})
	log.InfoContext(ctx, "ws handler - connection closed", logging.Conn(client.ID()))
}
