package session

import (
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrIdentityMismatch = errors.New("announced identity does not match the authenticated user")
	ErrAlreadyBound     = errors.New("session already bound to another user")
)

type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "connected-unbound"
	case StateBound:
		return "connected-bound"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the lifecycle of one physical connection. It starts unbound,
// becomes bound when the client announces its identity and is closed
// exactly once on disconnect.
type Session struct {
	mu       sync.Mutex
	state    State
	userID   string
	expected string
	client   contracts.Client
	hub      contracts.Registry
	typing   contracts.TypingTracker
	log      *slog.Logger
}

type Option func(*Session)

// WithExpectedUser pins the identity the client is allowed to announce,
// typically the subject of the token used to open the connection.
func WithExpectedUser(userID string) Option {
	return func(s *Session) { s.expected = userID }
}

func New(
	client contracts.Client,
	hub contracts.Registry,
	typing contracts.TypingTracker,
	log *slog.Logger,
	opts ...Option,
) *Session {
	s := &Session{
		client: client,
		hub:    hub,
		typing: typing,
		log:    log.With(logging.Conn(client.ID())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.client.ID() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return "", false
	}
	return s.userID, true
}

// Bind associates the session with userID and registers it in the presence
// registry. Announcing the same identity again re-registers, which also
// reclaims the binding after a reconnect race.
func (s *Session) Bind(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.expected != "" && s.expected != userID:
		s.mu.Unlock()
		return ErrIdentityMismatch
	case s.state == StateBound && s.userID != userID:
		s.mu.Unlock()
		return ErrAlreadyBound
	}
	s.state = StateBound
	s.userID = userID
	s.mu.Unlock()

	s.hub.Register(ctx, userID, s.client)
	s.log.InfoContext(ctx, "session - bind - identity announced", logging.User(userID))
	return nil
}

func (s *Session) Send(ctx context.Context, event string, payload any) error {
	return s.write(ctx, event, "", payload)
}

func (s *Session) Reply(ctx context.Context, ack string, payload any) error {
	return s.write(ctx, domain.EventAck, ack, payload)
}

func (s *Session) write(ctx context.Context, event, ack string, payload any) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	data, err := domain.Encode(event, ack, payload)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, data)
}

// Close tears the session down. Only the first call has an effect. The
// presence entry and typing state are cleared only if the registry binding
// still belongs to this connection; a newer connection of the same user
// keeps both.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	userID := s.userID
	s.state = StateClosed
	s.mu.Unlock()

	if prev == StateBound {
		if s.hub.Unregister(ctx, userID, s.client) {
			dropped := s.typing.RemoveUser(userID)
			s.log.InfoContext(ctx, "session - close - user offline", logging.User(userID), slog.Int("typing_dropped", dropped))
		} else {
			s.log.InfoContext(ctx, "session - close - binding already replaced", logging.User(userID))
		}
	}
	s.client.Close()
}
