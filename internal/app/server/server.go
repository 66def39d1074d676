package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chatrelay/internal/app/server/handlers"
	"chatrelay/pkg/middleware"
)

type Server struct {
	log        *slog.Logger
	app        string
	mux        *http.ServeMux
	httpServer *http.Server
	tokens     middleware.TokenValidator
	wsHandler  *handlers.WSHandler
	status     *handlers.StatusHandler
	health     *handlers.HealthHandler
}

// NewServer wires the routes. A nil tokens validator leaves /ws and the
// status endpoint unauthenticated.
func NewServer(
	log *slog.Logger,
	app string,
	addr string,
	tokens middleware.TokenValidator,
	wsHandler *handlers.WSHandler,
	status *handlers.StatusHandler,
	health *handlers.HealthHandler,
) *Server {
	s := &Server{
		log:       log,
		app:       app,
		mux:       http.NewServeMux(),
		tokens:    tokens,
		wsHandler: wsHandler,
		status:    status,
		health:    health,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	protect := func(h http.Handler) http.Handler { return h }
	if s.tokens != nil {
		protect = middleware.AuthMiddleware(s.tokens)
	}

	// Public Routes
	s.mux.HandleFunc("GET /healthz", s.health.Health)

	// Protected Routes
	s.mux.Handle("GET /users/status", protect(http.HandlerFunc(s.status.UserStatuses)))
	s.mux.Handle("/ws", protect(http.HandlerFunc(s.wsHandler.Handler)))
}

// Handler returns the mux wrapped in the tracing and logging middleware.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.app)(middleware.RequestLogger(s.log)(s.mux))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("server - start - listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for plain HTTP requests.
// Hijacked websocket connections are not tracked by net/http; the caller
// closes them through the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
