// Package typing tracks per-conversation typing indicators. Each
// (user, conversation) pair owns at most one expiry timer; starting again
// re-arms it and stopping or expiring drops the pair.
package typing

import (
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const DefaultTimeout = 3 * time.Second

const emitStripes = 64

// EmitFunc delivers a typing event to receiverID. It is called without the
// tracker mutex held, but under the pair's emit stripe, so events for one
// pair reach the receiver in the order their state changes happened.
type EmitFunc func(ctx context.Context, receiverID string, ev domain.TypingEvent)

type key struct {
	userID string
	convID string
}

type state struct {
	receiverID string
	timer      *time.Timer
	gen        uint64
}

type Tracker struct {
	// emitMu serialises state change plus emit per pair. Always taken
	// before mu.
	emitMu  [emitStripes]sync.Mutex
	mu      sync.Mutex
	timeout time.Duration
	states  map[key]*state
	byUser  map[string]map[string]struct{} // user_id → conversation ids
	gen     uint64
	closed  bool
	emit    EmitFunc
	log     *slog.Logger
}

func (t *Tracker) stripe(k key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(k.userID))
	h.Write([]byte{0})
	h.Write([]byte(k.convID))
	return &t.emitMu[h.Sum32()%emitStripes]
}

func NewTracker(timeout time.Duration, emit EmitFunc, log *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		timeout: timeout,
		states:  make(map[key]*state),
		byUser:  make(map[string]map[string]struct{}),
		emit:    emit,
		log:     log,
	}
}

// Start moves the pair to Typing, replacing any pending expiry, and tells
// the receiver.
func (t *Tracker) Start(ctx context.Context, userID, conversationID, receiverID string) {
	k := key{userID: userID, convID: conversationID}
	lock := t.stripe(k)
	lock.Lock()
	defer lock.Unlock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	st, ok := t.states[k]
	if ok {
		st.timer.Stop()
	} else {
		st = &state{}
		t.states[k] = st
		if t.byUser[userID] == nil {
			t.byUser[userID] = make(map[string]struct{})
		}
		t.byUser[userID][conversationID] = struct{}{}
	}
	t.gen++
	gen := t.gen
	st.gen = gen
	st.receiverID = receiverID
	// the expiry runs detached from the request that armed it
	expiryCtx := context.WithoutCancel(ctx)
	st.timer = time.AfterFunc(t.timeout, func() { t.expire(expiryCtx, k, gen) })
	t.mu.Unlock()

	t.emit(ctx, receiverID, domain.TypingEvent{UserID: userID, ConversationID: conversationID, IsTyping: true})
}

// Stop moves the pair back to Idle. It does nothing when the pair is not
// typing.
func (t *Tracker) Stop(ctx context.Context, userID, conversationID, receiverID string) {
	k := key{userID: userID, convID: conversationID}
	lock := t.stripe(k)
	lock.Lock()
	defer lock.Unlock()
	t.mu.Lock()
	st, ok := t.states[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.timer.Stop()
	t.dropLocked(k)
	t.mu.Unlock()

	if receiverID == "" {
		receiverID = st.receiverID
	}
	t.emit(ctx, receiverID, domain.TypingEvent{UserID: userID, ConversationID: conversationID, IsTyping: false})
}

func (t *Tracker) expire(ctx context.Context, k key, gen uint64) {
	lock := t.stripe(k)
	lock.Lock()
	defer lock.Unlock()
	t.mu.Lock()
	st, ok := t.states[k]
	if !ok || st.gen != gen {
		// lost the race against Stop, a re-arm or RemoveUser
		t.mu.Unlock()
		return
	}
	t.dropLocked(k)
	receiverID := st.receiverID
	t.mu.Unlock()

	t.log.DebugContext(ctx, "typing - expire - indicator timed out", logging.User(k.userID), logging.Conversation(k.convID))
	t.emit(ctx, receiverID, domain.TypingEvent{UserID: k.userID, ConversationID: k.convID, IsTyping: false})
}

func (t *Tracker) RemoveUser(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	convs := t.byUser[userID]
	for convID := range convs {
		k := key{userID: userID, convID: convID}
		if st, ok := t.states[k]; ok {
			st.timer.Stop()
			delete(t.states, k)
		}
	}
	delete(t.byUser, userID)
	return len(convs)
}

func (t *Tracker) Active(userID, conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.states[key{userID: userID, convID: conversationID}]
	return ok
}

func (t *Tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Close cancels every timer. Later Start calls are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, st := range t.states {
		st.timer.Stop()
		delete(t.states, k)
	}
	t.byUser = make(map[string]map[string]struct{})
}

func (t *Tracker) dropLocked(k key) {
	delete(t.states, k)
	if convs, ok := t.byUser[k.userID]; ok {
		delete(convs, k.convID)
		if len(convs) == 0 {
			delete(t.byUser, k.userID)
		}
	}
}
