package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/app/registry"
	"chatrelay/internal/app/server/handlers"
	"chatrelay/internal/app/typing"
	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/services"
	"chatrelay/pkg/middleware"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory implementation of the three repositories.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	messages map[string]*domain.Message
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{users: map[string]*domain.User{}, messages: map[string]*domain.Message{}}
	for _, id := range ids {
		s.users[id] = &domain.User{ID: id, Username: strings.ToUpper(id)}
	}
	return s
}

func (s *memStore) FindUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrUserNotFound
}

func (s *memStore) FindUsers(_ context.Context, ids []string) (map[string]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]*domain.User{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *memStore) UpdateUserPresence(_ context.Context, id string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsOnline = online
	u.LastSeen = &lastSeen
	return nil
}

func (s *memStore) FindOrCreateConversation(_ context.Context, a, b string) (*domain.Conversation, error) {
	if b < a {
		a, b = b, a
	}
	return &domain.Conversation{ID: a + ":" + b, Participants: [2]string{a, b}}, nil
}

func (s *memStore) TouchLastMessage(context.Context, string, string) error { return nil }

func (s *memStore) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *memStore) FindMessageByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (s *memStore) UpdateMessageStatus(_ context.Context, ids []string, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.Status = status
		}
	}
	return nil
}

func (s *memStore) MarkMessagesRead(_ context.Context, ids []string, readerID, senderID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []string
	for _, id := range ids {
		if m, ok := s.messages[id]; ok && m.ReceiverID == readerID && m.SenderID == senderID {
			m.Status = domain.StatusRead
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (s *memStore) SaveReactions(_ context.Context, id string, reactions []domain.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Reactions = reactions
		return nil
	}
	return domain.ErrMessageNotFound
}

type staticTokens map[string]string

func (s staticTokens) ValidateToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func newTestServer(t *testing.T, tokens staticTokens) (*httptest.Server, *registry.Registry, *memStore) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := newMemStore("u1", "u2")
	presence := services.NewPresenceService(log, store, nil)
	hub := registry.NewRegistry(log, presence)
	tracker := typing.NewTracker(typing.DefaultTimeout, func(ctx context.Context, receiverID string, ev domain.TypingEvent) {
		hub.Emit(ctx, receiverID, domain.EventUserTyping, ev)
	}, log)
	relay := services.NewRelayService(log, hub, tracker, store, store, store, nil)

	var validator middleware.TokenValidator
	if tokens != nil {
		validator = tokens
	}
	srv := NewServer(log, "chatrelay-test", ":0", validator,
		handlers.NewWSHandler(hub, tracker, relay),
		handlers.NewStatusHandler(hub, presence),
		handlers.NewHealthHandler(nil, hub),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close(context.Background())
		tracker.Close()
		ts.Close()
	})
	return ts, hub, store
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server, query string) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) emit(event, ack string, data any) {
	raw, err := domain.Encode(event, ack, data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, raw))
}

// next reads frames until one named event arrives.
func (p *peer) next(event string) domain.Envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := p.conn.ReadMessage()
		require.NoError(p.t, err, "waiting for %s", event)
		env, err := domain.ParseEnvelope(raw)
		require.NoError(p.t, err)
		if env.Event == event {
			return env
		}
	}
}

func (p *peer) connect(userID string) {
	p.emit(domain.EventUserConnected, "c-"+userID, userID)
	ack := p.next(domain.EventAck)
	var st domain.UserStatus
	require.NoError(p.t, json.Unmarshal(ack.Data, &st))
	require.True(p.t, st.IsOnline)
}

func TestServer_ConnectSendDisconnect(t *testing.T) {
	ts, hub, store := newTestServer(t, nil)

	u1 := dial(t, ts, "")
	u1.connect("u1")
	assert.True(t, hub.IsOnline("u1"))

	u2 := dial(t, ts, "")
	u2.connect("u2")

	u2.emit(domain.EventSendMessage, "s1", map[string]string{"receiverId": "u1", "content": "hello u1"})

	var view domain.MessageView
	require.NoError(t, json.Unmarshal(u1.next(domain.EventReceiveMessage).Data, &view))
	assert.Equal(t, "hello u1", view.Content)
	assert.Equal(t, "U2", view.Sender.Username)
	assert.Equal(t, domain.StatusDelivered, view.Status)

	ack := u2.next(domain.EventAck)
	assert.Equal(t, "s1", ack.Ack)

	stored, err := store.FindMessageByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1:u2", stored.ConversationID)

	require.NoError(t, u1.conn.Close())
	require.Eventually(t, func() bool { return !hub.IsOnline("u1") }, 2*time.Second, 10*time.Millisecond)

	for {
		var st domain.UserStatus
		require.NoError(t, json.Unmarshal(u2.next(domain.EventUserStatus).Data, &st))
		if st.UserID == "u1" && !st.IsOnline {
			assert.NotNil(t, st.LastSeen)
			break
		}
	}

	u, err := store.FindUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestServer_TypingRelay(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	u1 := dial(t, ts, "")
	u1.connect("u1")
	u2 := dial(t, ts, "")
	u2.connect("u2")

	u1.emit(domain.EventTypingStart, "", map[string]string{"conversationId": "c", "receiverId": "u2"})
	var ev domain.TypingEvent
	require.NoError(t, json.Unmarshal(u2.next(domain.EventUserTyping).Data, &ev))
	assert.Equal(t, domain.TypingEvent{UserID: "u1", ConversationID: "c", IsTyping: true}, ev)

	u1.emit(domain.EventTypingStop, "", map[string]string{"conversationId": "c", "receiverId": "u2"})
	require.NoError(t, json.Unmarshal(u2.next(domain.EventUserTyping).Data, &ev))
	assert.False(t, ev.IsTyping)
}

func TestServer_AuthPinsIdentity(t *testing.T) {
	ts, hub, _ := newTestServer(t, staticTokens{"tok-u1": "u1"})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	p := dial(t, ts, "?token=tok-u1")
	p.emit(domain.EventUserConnected, "c1", "u2")
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(p.next(domain.EventAck).Data, &payload))
	assert.Equal(t, "bind_failed", payload.Code)
	assert.False(t, hub.IsOnline("u2"))

	p.connect("u1")
	assert.True(t, hub.IsOnline("u1"))
}

func TestServer_StatusEndpoint(t *testing.T) {
	ts, _, store := newTestServer(t, nil)
	u1 := dial(t, ts, "")
	u1.connect("u1")
	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateUserPresence(context.Background(), "u2", false, seen))

	resp, err := http.Get(ts.URL + "/users/status?ids=u1,u2,u3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var statuses []domain.UserStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].IsOnline)
	assert.False(t, statuses[1].IsOnline)
	require.NotNil(t, statuses[1].LastSeen)
	assert.True(t, seen.Equal(*statuses[1].LastSeen))
	assert.Nil(t, statuses[2].LastSeen)

	resp2, err := http.Get(ts.URL + "/users/status")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["online"])
}
