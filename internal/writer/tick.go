package writer

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-stream/internal/router"
)

// tickRow is a row of the trade_ticks table.
type tickRow struct {
	Code         string
	ExecTime     time.Time
	BusinessDate time.Time
	ReceivedAt   time.Time
	Price        int64
	Volume       int64
	CumVolume    int64
	CumAmount    int64
	ChangeVsPrev int64
	Sign         string
	RateVsPrev   decimal.Decimal
	BestAsk      int64
	BestBid      int64
	ExecClass    string
	Strength     decimal.Decimal
	TimeClass    string
	Halted       bool
}

var tickTable = table[router.TickMsg]{
	name: "trade_ticks",
	insert: `
		INSERT INTO trade_ticks (code, exec_time, business_date, received_at, price, volume,
			cum_volume, cum_amount, change_vs_prev, sign, rate_vs_prev, best_ask, best_bid,
			exec_class, strength, time_class, halted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (code, exec_time, cum_volume) DO NOTHING`,
	values: func(m router.TickMsg) []any { return transformTick(m).values() },
}

// NewTickWriter creates a writer for the trade_ticks table.
func NewTickWriter(cfg WriterConfig, input *router.GrowableBuffer[router.TickMsg], db BatchSender, logger *slog.Logger) *Writer[router.TickMsg] {
	return newWriter(cfg, tickTable, input, db, logger)
}

func transformTick(msg router.TickMsg) tickRow {
	t := msg.Tick
	return tickRow{
		Code:         t.Code,
		ExecTime:     t.ExecTime,
		BusinessDate: t.BusinessDate,
		ReceivedAt:   msg.ReceivedAt,
		Price:        t.Price,
		Volume:       t.Volume,
		CumVolume:    t.CumVolume,
		CumAmount:    t.CumAmount,
		ChangeVsPrev: t.ChangeVsPrev,
		Sign:         string(t.SignVsPrevDay),
		RateVsPrev:   t.RateVsPrev,
		BestAsk:      t.BestAsk,
		BestBid:      t.BestBid,
		ExecClass:    string(t.ExecClass),
		Strength:     t.Strength,
		TimeClass:    string(t.TimeClass),
		Halted:       t.Halted,
	}
}

func (r tickRow) values() []any {
	return []any{
		r.Code, r.ExecTime, r.BusinessDate, r.ReceivedAt, r.Price, r.Volume,
		r.CumVolume, r.CumAmount, r.ChangeVsPrev, r.Sign, r.RateVsPrev, r.BestAsk, r.BestBid,
		r.ExecClass, r.Strength, r.TimeClass, r.Halted,
	}
}
