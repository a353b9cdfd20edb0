package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/kis-stream/internal/router"
)

// table describes how messages of type M land in one table.
type table[M any] struct {
	name   string
	insert string
	values func(M) []any
}

// Writer consumes one router buffer and writes batches to one table.
type Writer[M any] struct {
	cfg    WriterConfig
	logger *slog.Logger
	table  table[M]

	// Input from the router
	input *router.GrowableBuffer[M]

	// Database
	db BatchSender

	// Batching
	batch   [][]any
	batchMu sync.Mutex
	flushMu sync.Mutex

	// Lifecycle
	cancel       context.CancelFunc
	consumeDone  chan struct{}
	flushLoopEnd sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

func newWriter[M any](cfg WriterConfig, t table[M], input *router.GrowableBuffer[M], db BatchSender, logger *slog.Logger) *Writer[M] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriterConfig().WriteTimeout
	}
	return &Writer[M]{
		cfg:         cfg,
		logger:      logger.With("table", t.name),
		table:       t,
		input:       input,
		db:          db,
		batch:       make([][]any, 0, cfg.BatchSize),
		consumeDone: make(chan struct{}),
	}
}

// Start begins consuming messages and writing to the database.
func (w *Writer[M]) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	go w.consumeLoop()

	w.flushLoopEnd.Add(1)
	go w.flushLoop(ctx)

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop waits for the input buffer to be closed and drained, then flushes
// what is left.
func (w *Writer[M]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	var err error
	select {
	case <-w.consumeDone:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out", "queued", w.input.Len())
		err = ctx.Err()
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.flushLoopEnd.Wait()

	// Final flush
	w.flush()

	w.logger.Info("writer stopped")
	return err
}

// Stats returns current metrics.
func (w *Writer[M]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer until it is closed.
func (w *Writer[M]) consumeLoop() {
	defer close(w.consumeDone)

	for {
		msgs, ok := w.input.ReceiveBatch(w.cfg.BatchSize)
		if !ok {
			return
		}
		w.add(msgs)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer[M]) flushLoop(ctx context.Context) {
	defer w.flushLoopEnd.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// add transforms messages and appends them to the batch.
func (w *Writer[M]) add(msgs []M) {
	w.batchMu.Lock()
	for _, m := range msgs {
		w.batch = append(w.batch, w.table.values(m))
	}
	full := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if full {
		w.flush()
	}
}

// flush writes the current batch to the database. Flushes are serialized
// so rows land in queue order.
func (w *Writer[M]) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([][]any, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(rows) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows in one pgx.Batch. Rows that hit a conflict
// clause are counted, not treated as errors.
func (w *Writer[M]) batchInsert(ctx context.Context, rows [][]any) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, args := range rows {
		batch.Queue(w.table.insert, args...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", w.table.name, err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
