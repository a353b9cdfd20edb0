package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/rickgao/kis-stream/internal/version"
)

// Client is one websocket connection for one logical channel.
type Client interface {
	// Connect dials the endpoint, retrying with exponential backoff.
	Connect(ctx context.Context) error

	// Close closes the connection and unblocks any pending Receive.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Receive blocks until one complete frame arrives. There is no read
	// deadline: a silent server is only detected when the transport fails.
	Receive() ([]byte, error)

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialMaxAttempts < 1 {
		cfg.DialMaxAttempts = 1
	}

	return &client{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect establishes the websocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	bo := backoff.NewExponentialBackOff()
	if c.cfg.DialBaseDelay > 0 {
		bo.InitialInterval = c.cfg.DialBaseDelay
	}
	if c.cfg.DialMaxDelay > 0 {
		bo.MaxInterval = c.cfg.DialMaxDelay
	}

	var (
		conn *websocket.Conn
		err  error
	)
	for attempt := 1; ; attempt++ {
		conn, _, err = dialer.DialContext(ctx, c.cfg.URL, header)
		if err == nil {
			break
		}
		if attempt >= c.cfg.DialMaxAttempts || ctx.Err() != nil {
			return fmt.Errorf("dial %s after %d attempt(s): %w", c.cfg.URL, attempt, err)
		}

		wait := bo.NextBackOff()
		c.logger.Warn("dial failed, retrying",
			"url", c.cfg.URL,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Receive reads the next text frame. Binary frames are returned as-is; the
// broker only sends text.
func (c *client) Receive() ([]byte, error) {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, ErrAlreadyClosed
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		c.mu.Lock()
		c.connected = false
		closed = c.closed
		c.mu.Unlock()

		// Errors after Close() are the expected way out of a blocked read.
		if closed {
			return nil, ErrAlreadyClosed
		}
		return nil, err
	}
	return data, nil
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
