package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     string
	mu     sync.Mutex
	frames []domain.Envelope
	closed bool
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

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

func (c *fakeClient) statuses(t *testing.T) []domain.UserStatus {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.UserStatus
	for _, f := range c.frames {
		if f.Event != domain.EventUserStatus {
			continue
		}
		var st domain.UserStatus
		require.NoError(t, json.Unmarshal(f.Data, &st))
		out = append(out, st)
	}
	return out
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpdateUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, userID, online, lastSeen)
	return args.Error(0)
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRegister_LastWriterWins(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()
	first, second := newFakeClient("c1"), newFakeClient("c2")

	h.Register(ctx, "u1", first)
	h.Register(ctx, "u1", second)

	got, ok := h.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"u1"}, h.Online())
}

func TestUnregister_StaleConnectionIsNoop(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()
	first, second := newFakeClient("c1"), newFakeClient("c2")

	h.Register(ctx, "u1", first)
	h.Register(ctx, "u1", second)

	assert.False(t, h.Unregister(ctx, "u1", first))
	assert.True(t, h.IsOnline("u1"))

	assert.True(t, h.Unregister(ctx, "u1", second))
	assert.False(t, h.IsOnline("u1"))
}

func TestUnregister_AbsentIsIdempotent(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()

	assert.False(t, h.Unregister(ctx, "ghost", nil))

	c := newFakeClient("c1")
	h.Register(ctx, "u1", c)
	assert.True(t, h.Unregister(ctx, "u1", c))
	assert.False(t, h.Unregister(ctx, "u1", c))
	assert.False(t, h.Unregister(ctx, "u1", nil))
}

func TestIsOnline_TracksMostRecentOperation(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		c := newFakeClient(fmt.Sprintf("c%d", i))
		h.Register(ctx, "u1", c)
		assert.True(t, h.IsOnline("u1"))
		if i%2 == 0 {
			h.Unregister(ctx, "u1", nil)
			assert.False(t, h.IsOnline("u1"))
		}
	}
}

func TestRegister_BroadcastsToAllPeers(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()
	peer, me := newFakeClient("peer"), newFakeClient("me")

	h.Register(ctx, "peer", peer)
	h.Register(ctx, "me", me)
	h.Unregister(ctx, "me", me)

	statuses := peer.statuses(t)
	require.Len(t, statuses, 3)
	assert.Equal(t, domain.UserStatus{UserID: "me", IsOnline: true}, statuses[1])
	assert.Equal(t, "me", statuses[2].UserID)
	assert.False(t, statuses[2].IsOnline)
	assert.NotNil(t, statuses[2].LastSeen)
}

func TestRegister_StoreFailureDoesNotBlockPresence(t *testing.T) {
	store := &mockStore{}
	store.On("UpdateUserPresence", mock.Anything, "u1", true, mock.Anything).Return(errors.New("db down"))
	store.On("UpdateUserPresence", mock.Anything, "u1", false, mock.Anything).Return(nil)
	store.On("UpdateUserPresence", mock.Anything, "peer-user", true, mock.Anything).Return(nil)
	h := NewRegistry(quietLogger(), store)
	ctx := context.Background()
	peer := newFakeClient("peer")
	h.Register(ctx, "peer-user", peer)

	c := newFakeClient("c1")
	h.Register(ctx, "u1", c)

	assert.True(t, h.IsOnline("u1"))
	assert.Contains(t, peer.statuses(t), domain.UserStatus{UserID: "u1", IsOnline: true})

	h.Unregister(ctx, "u1", c)
	store.AssertCalled(t, "UpdateUserPresence", mock.Anything, "u1", false, mock.Anything)
}

func TestQuery_LastSeen(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewRegistry(quietLogger(), nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	st := h.Query("never")
	assert.False(t, st.IsOnline)
	assert.Nil(t, st.LastSeen)

	c := newFakeClient("c1")
	h.Register(ctx, "u1", c)
	st = h.Query("u1")
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)

	h.Unregister(ctx, "u1", c)
	st = h.Query("u1")
	assert.False(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, now, *st.LastSeen)
}

func TestEmit_OfflineIsSilent(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()

	assert.False(t, h.Emit(ctx, "nobody", domain.EventReceiveMessage, map[string]string{"x": "y"}))

	c := newFakeClient("c1")
	h.Register(ctx, "u1", c)
	assert.True(t, h.Emit(ctx, "u1", domain.EventReceiveMessage, map[string]string{"x": "y"}))

	c.Close()
	assert.False(t, h.Emit(ctx, "u1", domain.EventReceiveMessage, nil))
}

func TestClose_DisconnectsEveryone(t *testing.T) {
	store := &mockStore{}
	store.On("UpdateUserPresence", mock.Anything, mock.Anything, true, mock.Anything).Return(nil)
	store.On("UpdateUserPresence", mock.Anything, "a", false, mock.Anything).Return(nil).Once()
	store.On("UpdateUserPresence", mock.Anything, "b", false, mock.Anything).Return(nil).Once()
	h := NewRegistry(quietLogger(), store)
	ctx := context.Background()
	a, b := newFakeClient("a"), newFakeClient("b")
	h.Register(ctx, "a", a)
	h.Register(ctx, "b", b)

	h.Close(ctx)

	assert.Empty(t, h.Online())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.NotNil(t, h.Query("a").LastSeen)
	store.AssertExpectations(t)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	h := NewRegistry(quietLogger(), nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			c := newFakeClient(fmt.Sprintf("c%d", i))
			for j := 0; j < 50; j++ {
				h.Register(ctx, user, c)
				_ = h.IsOnline(user)
				_ = h.Query(user)
				h.Unregister(ctx, user, c)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 4; i++ {
		_, ok := h.Lookup(fmt.Sprintf("u%d", i))
		assert.False(t, ok)
	}
}
