package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/parser"
)

// ErrRouterStopped is returned by Route after Stop.
var ErrRouterStopped = errors.New("router stopped")

// Source yields decoded messages in order. Per-frame failures come back as
// errors alongside an open source; the source is finished when Next
// returns an error wrapping io.EOF.
type Source interface {
	Next() (model.Message, error)
}

// Router copies decoded messages from sources into per-sink buffers.
type Router interface {
	// Route drains src until it is finished, blocking the caller. It
	// returns the last error that was not a per-frame failure, or nil
	// when the source finished cleanly.
	Route(ctx context.Context, name string, src Source) error

	// Stop waits for active Route calls, then closes the output buffers.
	Stop(ctx context.Context) error

	// Buffers returns output buffers for sinks to consume.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterBuffers provides access to output buffers. Buffers of disabled
// sinks are nil.
type RouterBuffers struct {
	Ticks   *GrowableBuffer[TickMsg]
	Books   *GrowableBuffer[BookMsg]
	Fills   *GrowableBuffer[FillMsg]
	Publish *GrowableBuffer[PublishMsg]
	Journal *GrowableBuffer[FillMsg]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	CryptoErrors     int64
	SourceErrors     int64
	ActiveSources    int64
	TickBuffer       BufferStats
	BookBuffer       BufferStats
	FillBuffer       BufferStats
	PublishBuffer    BufferStats
	JournalBuffer    BufferStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger
	bufs   RouterBuffers

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	received     atomic.Int64
	routed       atomic.Int64
	parseErrors  atomic.Int64
	cryptoErrors atomic.Int64
	sourceErrors atomic.Int64
	active       atomic.Int64
}

// NewRouter creates a new fan-out router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{cfg: cfg, logger: logger}
	if cfg.Store {
		r.bufs.Ticks = NewGrowableBuffer[TickMsg](cfg.TickBufferSize)
		r.bufs.Books = NewGrowableBuffer[BookMsg](cfg.BookBufferSize)
		r.bufs.Fills = NewGrowableBuffer[FillMsg](cfg.FillBufferSize)
	}
	if cfg.Publish {
		r.bufs.Publish = NewGrowableBuffer[PublishMsg](cfg.PublishBufferSize)
	}
	if cfg.Journal {
		r.bufs.Journal = NewGrowableBuffer[FillMsg](cfg.JournalBufferSize)
	}

	logger.Info("message router created",
		"store", cfg.Store,
		"publish", cfg.Publish,
		"journal", cfg.Journal,
	)
	return r
}

// Route drains one source.
func (r *router) Route(ctx context.Context, name string, src Source) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRouterStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.active.Add(1)
	defer r.active.Add(-1)

	logger := r.logger.With("source", name)
	logger.Debug("routing source")

	var last error
	for ctx.Err() == nil {
		msg, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("source finished", "error", last)
				return last
			}
			if r.frameError(err) {
				continue
			}
			r.sourceErrors.Add(1)
			logger.Warn("source error", "error", err)
			last = err
			continue
		}

		r.received.Add(1)
		r.route(name, msg, time.Now())
	}
	return ctx.Err()
}

// frameError counts failures that affect one frame only.
func (r *router) frameError(err error) bool {
	var ce *decrypt.CryptoError
	if errors.As(err, &ce) {
		r.cryptoErrors.Add(1)
		return true
	}
	var fpe *parser.FrameParseError
	if errors.As(err, &fpe) {
		r.parseErrors.Add(1)
		return true
	}
	return false
}

// route copies one message into every enabled sink.
func (r *router) route(source string, msg model.Message, at time.Time) {
	switch m := msg.(type) {
	case *model.TradeTick:
		if r.bufs.Ticks != nil {
			r.bufs.Ticks.Send(TickMsg{Tick: m, Source: source, ReceivedAt: at})
		}
	case *model.OrderBook:
		if r.bufs.Books != nil {
			r.bufs.Books.Send(BookMsg{Book: m, Source: source, ReceivedAt: at})
		}
	case *model.PersonalFill:
		fm := FillMsg{Fill: m, Source: source, ReceivedAt: at}
		if r.bufs.Fills != nil {
			r.bufs.Fills.Send(fm)
		}
		if r.bufs.Journal != nil {
			r.bufs.Journal.Send(fm)
		}
	default:
		r.logger.Warn("unroutable message", "source", source, "channel", msg.Channel().String())
		return
	}

	if r.bufs.Publish != nil {
		r.bufs.Publish.Send(PublishMsg{Message: msg, Source: source, ReceivedAt: at})
	}
	r.routed.Add(1)
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("stopping message router")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out", "active_sources", r.active.Load())
		err = ctx.Err()
	}

	// Sinks drain what is queued, then see the close.
	closeBuf(r.bufs.Ticks)
	closeBuf(r.bufs.Books)
	closeBuf(r.bufs.Fills)
	closeBuf(r.bufs.Publish)
	closeBuf(r.bufs.Journal)

	return err
}

func closeBuf[T any](b *GrowableBuffer[T]) {
	if b != nil {
		b.Close()
	}
}

func statsOf[T any](b *GrowableBuffer[T]) BufferStats {
	if b == nil {
		return BufferStats{}
	}
	return b.Stats()
}

// Buffers returns output buffers for sinks.
func (r *router) Buffers() RouterBuffers {
	return r.bufs
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		CryptoErrors:     r.cryptoErrors.Load(),
		SourceErrors:     r.sourceErrors.Load(),
		ActiveSources:    r.active.Load(),
		TickBuffer:       statsOf(r.bufs.Ticks),
		BookBuffer:       statsOf(r.bufs.Books),
		FillBuffer:       statsOf(r.bufs.Fills),
		PublishBuffer:    statsOf(r.bufs.Publish),
		JournalBuffer:    statsOf(r.bufs.Journal),
	}
}
