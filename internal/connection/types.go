package connection

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rickgao/kis-stream/internal/model"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrTimeout       = errors.New("operation timeout")
	ErrAlreadyClosed = errors.New("already closed")
	ErrManagerClosed = errors.New("manager closed")
	ErrStreamClosed  = fmt.Errorf("stream closed: %w", io.EOF) // drained and closed
	ErrNotSubscribed = errors.New("channel has no running receive loop")
	ErrLoopStopped   = errors.New("receive loop stopped")
)

// ConnectionError is a transport failure on one channel. Dial failures are
// returned from Subscribe; receive failures end the channel's loop and are
// delivered as the last event on its stream.
type ConnectionError struct {
	Channel model.Channel
	Op      string // "dial", "send" or "receive"
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionRejectedError is returned when the server answers a request
// with anything but the success text. Message is the server text unchanged.
type SubscriptionRejectedError struct {
	TrID    model.TrID
	TrKey   string
	Message string
}

func (e *SubscriptionRejectedError) Error() string {
	return fmt.Sprintf("subscription %s/%s rejected: %s", e.TrID, e.TrKey, e.Message)
}

// Event is one item on a stream: a decoded message or a per-frame error.
type Event struct {
	Message    model.Message
	Err        error
	ReceivedAt time.Time
}

// Default endpoints. Each channel dials <base>/tryitout/<tr_id>.
const (
	DefaultRealURL    = "ws://ops.koreainvestment.com:21000"
	DefaultVirtualURL = "ws://ops.koreainvestment.com:31000"
)

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL              string        // Full endpoint including path
	HandshakeTimeout time.Duration // Websocket upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	DialMaxAttempts  int           // Dial attempts before giving up (1 = no retry)
	DialBaseDelay    time.Duration // First retry delay
	DialMaxDelay     time.Duration // Retry delay cap
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		DialMaxAttempts:  3,
		DialBaseDelay:    500 * time.Millisecond,
		DialMaxDelay:     5 * time.Second,
	}
}

// ManagerConfig configures the dispatch manager.
type ManagerConfig struct {
	Environment model.Environment // Selects endpoint and personal-fill code
	URL         string            // Base URL override (e.g., ws://127.0.0.1:21000)
	AckTimeout  time.Duration     // Max wait for an acknowledgement; 0 = wait for ctx only
	QueueSize   int               // Initial per-channel queue capacity
	Client      ClientConfig      // Per-connection settings; URL is filled per channel

	// Now is the clock used to date frames that carry no business date.
	Now func() time.Time
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Environment: model.EnvVirtual,
		AckTimeout:  10 * time.Second,
		QueueSize:   1024,
		Client:      DefaultClientConfig(),
	}
}

// Endpoint returns the websocket URL for a transaction code.
func (c ManagerConfig) Endpoint(trID model.TrID) string {
	base := c.URL
	if base == "" {
		base = DefaultVirtualURL
		if c.Environment == model.EnvReal {
			base = DefaultRealURL
		}
	}
	return strings.TrimRight(base, "/") + "/tryitout/" + string(trID)
}

// State is the lifecycle of a channel's receive loop.
type State int

const (
	StateIdle    State = iota // never subscribed
	StateRunning              // loop alive
	StateStopped              // loop ended; next subscribe redials
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
