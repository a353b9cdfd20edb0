package router

import (
	"time"

	"github.com/rickgao/kis-stream/internal/model"
)

// RouterConfig holds configuration for the fan-out router. A sink that is
// disabled gets no buffer, so nothing accumulates without a consumer.
type RouterConfig struct {
	// Database writers
	Store          bool
	TickBufferSize int // Default: 5000
	BookBufferSize int // Default: 5000
	FillBufferSize int // Default: 100

	// Kafka publisher; receives every message
	Publish           bool
	PublishBufferSize int // Default: 5000

	// Fill ledger
	Journal           bool
	JournalBufferSize int // Default: 100
}

// DefaultRouterConfig returns default configuration with every sink
// enabled.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Store:             true,
		TickBufferSize:    5000,
		BookBufferSize:    5000,
		FillBufferSize:    100,
		Publish:           true,
		PublishBufferSize: 5000,
		Journal:           true,
		JournalBufferSize: 100,
	}
}

// TickMsg is a trade tick bound for the tick writer.
type TickMsg struct {
	Tick       *model.TradeTick
	Source     string
	ReceivedAt time.Time
}

// BookMsg is an order-book update bound for the depth writer.
type BookMsg struct {
	Book       *model.OrderBook
	Source     string
	ReceivedAt time.Time
}

// FillMsg is a personal fill bound for the fill writer or the ledger.
type FillMsg struct {
	Fill       *model.PersonalFill
	Source     string
	ReceivedAt time.Time
}

// PublishMsg is any decoded message bound for the publisher.
type PublishMsg struct {
	Message    model.Message
	Source     string
	ReceivedAt time.Time
}
