package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatrelay/pkg/logging"

	"github.com/google/uuid"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSendTimeout  = errors.New("client send buffer full")
)

const (
	sendBuffer  = 256
	sendTimeout = 5 * time.Second
)

// RuntimeClient is one live connection as seen by the registry. Outbound
// frames are queued and written by a single writer goroutine.
type RuntimeClient struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	ws      *WebSocket
	out     chan []byte
	timeout time.Duration
	once    sync.Once
	log     *slog.Logger
}

func NewClient(parent context.Context, ws *WebSocket, log *slog.Logger) *RuntimeClient {
	return newClient(parent, ws, log, sendBuffer, sendTimeout)
}

func newClient(parent context.Context, ws *WebSocket, log *slog.Logger, buffer int, timeout time.Duration) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	c := &RuntimeClient{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		ws:      ws,
		out:     make(chan []byte, buffer),
		timeout: timeout,
		log:     log.With(logging.Conn(id)),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() string { return c.id }

// Send queues data for delivery. A peer that stops reading long enough to
// fill the buffer is disconnected rather than allowed to stall the sender.
func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.log.WarnContext(ctx, "ws client - send - buffer full, closing")
		c.Close()
		return ErrSendTimeout
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.ws.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				c.log.DebugContext(c.ctx, "ws client - write loop - write failed", logging.Err(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.Ping(); err != nil {
				return
			}
		}
	}
}
