package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rickgao/kis-stream/internal/router"
)

// Producer is the part of *kgo.Client the publisher needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
}

// Config holds publisher settings.
type Config struct {
	Brokers     []string
	TopicPrefix string
	ClientID    string
	Linger      time.Duration
	BatchSize   int // Messages taken from the buffer per pass
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopicPrefix: "kis",
		ClientID:    "kis-stream",
		Linger:      10 * time.Millisecond,
		BatchSize:   500,
	}
}

// NewClient creates the franz-go client for cfg.
func NewClient(cfg Config) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.Linger),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Metrics counts publisher outcomes.
type Metrics struct {
	Produced int64
	Failed   int64
	Skipped  int64 // Messages that could not be encoded
}

// Publisher drains the router's publish buffer into Kafka.
type Publisher struct {
	cfg      Config
	input    *router.GrowableBuffer[router.PublishMsg]
	producer Producer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	produced atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

// NewPublisher creates a publisher. The producer is not closed by the
// publisher.
func NewPublisher(cfg Config, input *router.GrowableBuffer[router.PublishMsg], producer Producer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultConfig().TopicPrefix
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Publisher{
		cfg:      cfg,
		input:    input,
		producer: producer,
		logger:   logger.With("component", "publisher"),
		done:     make(chan struct{}),
	}
}

// Start begins draining the input buffer.
func (p *Publisher) Start(ctx context.Context) error {
	// Detached from ctx; Stop cancels it after the final flush.
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go p.run()
	p.logger.Info("publisher started", "topic_prefix", p.cfg.TopicPrefix)
	return nil
}

// Stop waits for the input buffer to close and drain, then flushes
// buffered records.
func (p *Publisher) Stop(ctx context.Context) error {
	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("publisher stop timed out", "queued", p.input.Len())
		err = ctx.Err()
	}

	if ferr := p.producer.Flush(ctx); ferr != nil && err == nil {
		err = fmt.Errorf("flush: %w", ferr)
	}
	if p.cancel != nil {
		p.cancel()
	}

	p.logger.Info("publisher stopped",
		"produced", p.produced.Load(),
		"failed", p.failed.Load(),
	)
	return err
}

// Stats returns current metrics. Produced counts acknowledged records.
func (p *Publisher) Stats() Metrics {
	return Metrics{
		Produced: p.produced.Load(),
		Failed:   p.failed.Load(),
		Skipped:  p.skipped.Load(),
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	for {
		msgs, ok := p.input.ReceiveBatch(p.cfg.BatchSize)
		if !ok {
			return
		}
		for _, m := range msgs {
			p.publish(m)
		}
	}
}

func (p *Publisher) publish(m router.PublishMsg) {
	rec, err := BuildRecord(p.cfg.TopicPrefix, m)
	if err != nil {
		p.skipped.Add(1)
		p.logger.Warn("skipping message", "error", err)
		return
	}
	p.producer.Produce(p.ctx, rec, p.promise)
}

func (p *Publisher) promise(r *kgo.Record, err error) {
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("produce failed", "topic", r.Topic, "key", string(r.Key), "error", err)
		return
	}
	p.produced.Add(1)
}
