package writer

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-stream/internal/router"
)

// bookRow is a row of the orderbook_depth table. Level arrays are best
// first.
type bookRow struct {
	Code           string
	QuoteTime      time.Time
	ReceivedAt     time.Time
	TimeClass      string
	AskPrices      []int64
	BidPrices      []int64
	AskQtys        []int64
	BidQtys        []int64
	TotalAskQty    int64
	TotalBidQty    int64
	PredictedPrice int64
	PredictedQty   int64
	PredictedRate  decimal.Decimal
	CumVolume      int64
}

var bookTable = table[router.BookMsg]{
	name: "orderbook_depth",
	insert: `
		INSERT INTO orderbook_depth (code, quote_time, received_at, time_class, ask_prices,
			bid_prices, ask_qtys, bid_qtys, total_ask_qty, total_bid_qty, predicted_price,
			predicted_qty, predicted_rate, cum_volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
	values: func(m router.BookMsg) []any { return transformBook(m).values() },
}

// NewBookWriter creates a writer for the orderbook_depth table.
func NewBookWriter(cfg WriterConfig, input *router.GrowableBuffer[router.BookMsg], db BatchSender, logger *slog.Logger) *Writer[router.BookMsg] {
	return newWriter(cfg, bookTable, input, db, logger)
}

func transformBook(msg router.BookMsg) bookRow {
	b := msg.Book
	return bookRow{
		Code:           b.Code,
		QuoteTime:      b.Time,
		ReceivedAt:     msg.ReceivedAt,
		TimeClass:      string(b.TimeClass),
		AskPrices:      b.AskPrices[:],
		BidPrices:      b.BidPrices[:],
		AskQtys:        b.AskQtys[:],
		BidQtys:        b.BidQtys[:],
		TotalAskQty:    b.TotalAskQty,
		TotalBidQty:    b.TotalBidQty,
		PredictedPrice: b.PredictedPrice,
		PredictedQty:   b.PredictedQty,
		PredictedRate:  b.PredictedRate,
		CumVolume:      b.CumVolume,
	}
}

func (r bookRow) values() []any {
	return []any{
		r.Code, r.QuoteTime, r.ReceivedAt, r.TimeClass, r.AskPrices,
		r.BidPrices, r.AskQtys, r.BidQtys, r.TotalAskQty, r.TotalBidQty, r.PredictedPrice,
		r.PredictedQty, r.PredictedRate, r.CumVolume,
	}
}
