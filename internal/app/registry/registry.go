package registry

import (
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Registry struct {
	mu       sync.RWMutex
	clients  map[string]contracts.Client // user_id → client
	lastSeen map[string]time.Time        // user_id → disconnect time, offline users only
	store    contracts.PresenceStore
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Registry)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Registry) { h.now = now }
}

// NewRegistry builds an empty registry. store may be nil, in which case
// presence changes are kept in memory only.
func NewRegistry(log *slog.Logger, store contracts.PresenceStore, opts ...Option) *Registry {
	h := &Registry{
		clients:  make(map[string]contracts.Client),
		lastSeen: make(map[string]time.Time),
		store:    store,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Registry) Register(ctx context.Context, userID string, c contracts.Client) {
	now := h.now()
	h.mu.Lock()
	prev := h.clients[userID]
	h.clients[userID] = c
	delete(h.lastSeen, userID)
	h.mu.Unlock()

	if prev != nil && prev != c {
		// reconnect race: the older connection stops receiving relays
		h.log.InfoContext(ctx, "registry - register - binding replaced", logging.User(userID), logging.Conn(c.ID()), slog.String("previous_conn_id", prev.ID()))
	} else {
		h.log.InfoContext(ctx, "registry - register - client bound", logging.User(userID), logging.Conn(c.ID()))
	}
	h.Broadcast(ctx, domain.EventUserStatus, domain.UserStatus{UserID: userID, IsOnline: true})
	h.persist(ctx, userID, true, now)
}

func (h *Registry) Unregister(ctx context.Context, userID string, c contracts.Client) bool {
	now := h.now()
	h.mu.Lock()
	cur, ok := h.clients[userID]
	if !ok || (c != nil && cur != c) {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, userID)
	h.lastSeen[userID] = now
	h.mu.Unlock()

	h.log.InfoContext(ctx, "registry - unregister - client unbound", logging.User(userID), logging.Conn(cur.ID()))
	h.Broadcast(ctx, domain.EventUserStatus, domain.UserStatus{UserID: userID, IsOnline: false, LastSeen: &now})
	h.persist(ctx, userID, false, now)
	return true
}

func (h *Registry) Lookup(userID string) (contracts.Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

func (h *Registry) IsOnline(userID string) bool {
	_, ok := h.Lookup(userID)
	return ok
}

// Query reports the user's status. LastSeen is now while online, the
// disconnect time for users seen by this process, and nil otherwise.
func (h *Registry) Query(userID string) domain.UserStatus {
	h.mu.RLock()
	_, online := h.clients[userID]
	seen, wasSeen := h.lastSeen[userID]
	h.mu.RUnlock()

	status := domain.UserStatus{UserID: userID, IsOnline: online}
	switch {
	case online:
		now := h.now()
		status.LastSeen = &now
	case wasSeen:
		status.LastSeen = &seen
	}
	return status
}

// Online returns the connected user ids in sorted order.
func (h *Registry) Online() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (h *Registry) Emit(ctx context.Context, userID, event string, payload any) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	data, err := domain.Encode(event, "", payload)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - emit - encode failed", logging.User(userID), logging.Event(event), logging.Err(err))
		return false
	}
	if err := c.Send(ctx, data); err != nil {
		h.log.WarnContext(ctx, "registry - emit - send failed", logging.User(userID), logging.Event(event), logging.Err(err))
		return false
	}
	return true
}

func (h *Registry) Broadcast(ctx context.Context, event string, payload any) {
	data, err := domain.Encode(event, "", payload)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - broadcast - encode failed", logging.Event(event), logging.Err(err))
		return
	}
	h.mu.RLock()
	targets := make([]contracts.Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		_ = c.Send(ctx, data)
	}
}

// Close disconnects every client and empties the registry. Used on service
// shutdown; no offline broadcast is sent since every peer is going away, but
// each user is persisted as offline.
func (h *Registry) Close(ctx context.Context) {
	now := h.now()
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]contracts.Client)
	for userID := range clients {
		h.lastSeen[userID] = now
	}
	h.mu.Unlock()
	for userID, c := range clients {
		c.Close()
		h.persist(ctx, userID, false, now)
	}
}

func (h *Registry) persist(ctx context.Context, userID string, online bool, at time.Time) {
	if h.store == nil {
		return
	}
	if err := h.store.UpdateUserPresence(ctx, userID, online, at); err != nil {
		h.log.ErrorContext(ctx, "registry - persist presence - update failed", logging.User(userID), slog.Bool("online", online), logging.Err(err))
	}
}
