package ledger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/kis-stream/internal/router"
)

// JournalMetrics counts journal outcomes.
type JournalMetrics struct {
	Recorded   int64
	Duplicates int64
	Errors     int64
}

// Journal feeds fills from the router into a Ledger.
type Journal struct {
	ledger       *Ledger
	input        *router.GrowableBuffer[router.FillMsg]
	logger       *slog.Logger
	writeTimeout time.Duration
	done         chan struct{}

	recorded   atomic.Int64
	duplicates atomic.Int64
	errors     atomic.Int64
}

// NewJournal creates a journal consumer.
func NewJournal(l *Ledger, input *router.GrowableBuffer[router.FillMsg], logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		ledger:       l,
		input:        input,
		logger:       logger.With("component", "ledger"),
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start begins consuming fills.
func (j *Journal) Start(ctx context.Context) error {
	go j.run(context.WithoutCancel(ctx))
	return nil
}

// Stop waits for the input buffer to close and drain.
func (j *Journal) Stop(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out", "queued", j.input.Len())
		return ctx.Err()
	}
}

// Stats returns current metrics.
func (j *Journal) Stats() JournalMetrics {
	return JournalMetrics{
		Recorded:   j.recorded.Load(),
		Duplicates: j.duplicates.Load(),
		Errors:     j.errors.Load(),
	}
}

func (j *Journal) run(ctx context.Context) {
	defer close(j.done)

	for {
		msg, ok := j.input.Receive()
		if !ok {
			return
		}
		j.record(ctx, msg)
	}
}

func (j *Journal) record(ctx context.Context, msg router.FillMsg) {
	ctx, cancel := context.WithTimeout(ctx, j.writeTimeout)
	defer cancel()

	res, err := j.ledger.Record(ctx, msg.Fill, msg.Source, msg.ReceivedAt)
	if err != nil {
		j.errors.Add(1)
		j.logger.Error("record fill failed", "error", err)
		return
	}
	if res.Duplicate {
		j.duplicates.Add(1)
		j.logger.Info("replayed fill",
			"id", res.ID,
			"account", msg.Fill.AccountNo,
			"order_no", msg.Fill.OrderNo,
		)
		return
	}
	j.recorded.Add(1)
}
