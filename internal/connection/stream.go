package connection

import (
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/router"
)

// Stream is the consumer side of one channel's queue. Events are delivered
// in socket order. The queue is unbounded, so a slow consumer never stalls
// the receive loop.
type Stream struct {
	channel model.Channel
	buf     *router.GrowableBuffer[Event]
}

func newStream(ch model.Channel, size int) *Stream {
	return &Stream{
		channel: ch,
		buf:     router.NewGrowableBuffer[Event](size),
	}
}

// Channel returns the channel the stream carries.
func (s *Stream) Channel() model.Channel { return s.channel }

// Next blocks for the next event. A *parser.FrameParseError or
// *decrypt.CryptoError affects one frame only; a *ConnectionError means the
// loop has ended. After the queue is drained and closed Next returns
// ErrStreamClosed.
func (s *Stream) Next() (model.Message, error) {
	ev, err := s.NextEvent()
	if err != nil {
		return nil, err
	}
	return ev.Message, ev.Err
}

// NextEvent is Next with the receive timestamp.
func (s *Stream) NextEvent() (Event, error) {
	ev, ok := s.buf.Receive()
	if !ok {
		return Event{}, ErrStreamClosed
	}
	return ev, nil
}

// TryNext returns the next event without blocking.
func (s *Stream) TryNext() (Event, bool) {
	return s.buf.TryReceive()
}

// Len returns the number of queued events.
func (s *Stream) Len() int { return s.buf.Len() }

// Stats returns queue statistics.
func (s *Stream) Stats() router.BufferStats { return s.buf.Stats() }

func (s *Stream) push(ev Event) bool { return s.buf.Send(ev) }

func (s *Stream) close() { s.buf.Close() }
