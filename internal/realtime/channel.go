// Package realtime keeps an authenticated websocket open to the ride
// backend and dispatches its frames to subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/credential"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("realtime channel closed")

// Frame is one message on the socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler receives frames of one type. Handlers run on the read loop and
// must not block.
type Handler func(Frame)

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Options tunes reconnection.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Dialer         *websocket.Dialer
}

// Channel is a self-healing websocket connection. Subscriptions survive
// reconnects.
type Channel struct {
	url    string
	store  credential.Store
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]map[int]Handler
	nextID   int
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	connects int

	writeMu sync.Mutex
}

// NewChannel creates a Channel for the websocket URL.
func NewChannel(url string, store credential.Store, opts Options, logger *zap.Logger) *Channel {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		url:      url,
		store:    store,
		opts:     opts,
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for a frame type and returns a function
// that removes it.
func (c *Channel) Subscribe(frameType string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[frameType] == nil {
		c.handlers[frameType] = make(map[int]Handler)
	}
	c.handlers[frameType][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[frameType], id)
	}
}

// Connect dials and authenticates, then keeps the connection alive in the
// background until ctx ends or Close is called. The first dial error is
// returned, but unless the session was rejected the channel keeps redialling
// with backoff, as it does for later drops.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.done != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil && (errors.Is(err, domain.ErrUnauthorized) || ctx.Err() != nil) {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.maintain(loopCtx, conn)
	}()
	return err
}

// Connected reports whether a socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connects returns how many times the channel authenticated a socket.
func (c *Channel) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Emit sends a frame. It fails when no socket is open; callers fall back to
// HTTP.
func (c *Channel) Emit(ctx context.Context, frameType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frameType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.NewRemoteError(0, "realtime channel is not connected")
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.write(conn, deadline, func() error {
		return conn.WriteJSON(Frame{Type: frameType, Data: payload})
	})
}

// Close stops reconnecting and closes the socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = c.write(conn, time.Now().Add(writeWait), func() error {
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		})
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	creds, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			return nil, domain.NewUnauthorizedError("sign in before opening the realtime channel")
		}
		return nil, err
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.NewUnauthorizedError("realtime handshake rejected")
		}
		return nil, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	if err := c.write(conn, time.Now().Add(writeWait), func() error {
		return conn.WriteJSON(authFrame{Type: "auth", Token: "Bearer " + creds.Token})
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to authenticate socket: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("no auth acknowledgement: %w", err)
	}
	if ack.Type != "auth_ok" {
		_ = conn.Close()
		return nil, domain.NewUnauthorizedError("realtime auth rejected: " + string(ack.Data))
	}

	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	c.logger.Info("realtime channel connected", zap.String("url", c.url))
	return conn, nil
}

// maintain reads until the socket drops, then redials with backoff. A nil
// conn starts with a redial.
func (c *Channel) maintain(ctx context.Context, conn *websocket.Conn) {
	for {
		if conn != nil {
			c.serve(ctx, conn)
		}

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		if conn != nil {
			c.logger.Warn("realtime channel dropped, reconnecting")
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.opts.InitialBackoff
		b.MaxInterval = c.opts.MaxBackoff
		b.MaxElapsedTime = 0

		next, err := backoff.RetryWithData(func() (*websocket.Conn, error) {
			conn, err := c.dial(ctx)
			if errors.Is(err, domain.ErrUnauthorized) {
				return nil, backoff.Permanent(err)
			}
			return conn, err
		}, backoff.WithContext(b, ctx))
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("realtime channel gave up", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.conn = next
		c.mu.Unlock()
		conn = next
	}
}

// serve runs the ping and read loops for one socket until it fails.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				err := c.write(conn, time.Now().Add(writeWait), func() error {
					return conn.WriteMessage(websocket.PingMessage, nil)
				})
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.logger.Debug("realtime read failed", zap.Error(err))
			}
			_ = conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f Frame) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[f.Type]))
	for _, h := range c.handlers[f.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(f)
	}
}

// write serializes writers; gorilla connections allow one concurrent writer.
func (c *Channel) write(conn *websocket.Conn, deadline time.Time, fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return fn()
}
