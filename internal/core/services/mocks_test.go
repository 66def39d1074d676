package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/core/domain"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) FindUser(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *mockUsers) FindUsers(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	args := m.Called(ctx, ids)
	users, _ := args.Get(0).(map[string]*domain.User)
	return users, args.Error(1)
}

func (m *mockUsers) UpdateUserPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, id, online, lastSeen)
	return args.Error(0)
}

type mockConvs struct {
	mock.Mock
}

func (m *mockConvs) FindOrCreateConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	args := m.Called(ctx, a, b)
	c, _ := args.Get(0).(*domain.Conversation)
	return c, args.Error(1)
}

func (m *mockConvs) TouchLastMessage(ctx context.Context, convID, msgID string) error {
	args := m.Called(ctx, convID, msgID)
	return args.Error(0)
}

type mockMessages struct {
	mock.Mock
}

func (m *mockMessages) SaveMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessages) FindMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) UpdateMessageStatus(ctx context.Context, ids []string, status domain.MessageStatus) error {
	args := m.Called(ctx, ids, status)
	return args.Error(0)
}

func (m *mockMessages) MarkMessagesRead(ctx context.Context, ids []string, readerID, senderID string) ([]string, error) {
	args := m.Called(ctx, ids, readerID, senderID)
	updated, _ := args.Get(0).([]string)
	return updated, args.Error(1)
}

func (m *mockMessages) SaveReactions(ctx context.Context, messageID string, reactions []domain.Reaction) error {
	args := m.Called(ctx, messageID, reactions)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) UpdateUserPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, id, online, lastSeen)
	return args.Error(0)
}

func (m *mockCache) LastSeen(ctx context.Context, id string) (*time.Time, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*time.Time)
	return t, args.Error(1)
}

// countingTx runs fn directly and counts transactions.
type countingTx struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return fn(ctx)
}

type fakeClient struct {
	id     string
	mu     sync.Mutex
	frames []domain.Envelope
	closed bool
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) events(name string) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, env domain.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
