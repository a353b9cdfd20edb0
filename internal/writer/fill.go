package writer

import (
	"log/slog"
	"time"

	"github.com/rickgao/kis-stream/internal/router"
)

// fillRow is a row of the personal_fills table.
type fillRow struct {
	AccountNo     string
	OrderNo       int64
	OriginOrderNo int64
	ExecTime      time.Time
	ReceivedAt    time.Time
	CustomerID    string
	Code          string
	Direction     string
	Correction    string
	OrderKind     string
	ExecQty       int64
	ExecPrice     int64
	OrderQty      int64
	Executed      bool
	Refused       bool
	Accepted      bool
	BranchNo      string
	StockName     string
}

// fillIdentity is the column set that tells two fill notices apart. A
// notice repeated on every column in it is a replay.
const fillIdentity = "account_no, order_no, exec_time, executed, exec_qty, exec_price, refused, accepted, correction"

var fillTable = table[router.FillMsg]{
	name: "personal_fills",
	insert: `
		INSERT INTO personal_fills (account_no, order_no, origin_order_no, exec_time, received_at,
			customer_id, code, direction, correction, order_kind, exec_qty, exec_price, order_qty,
			executed, refused, accepted, branch_no, stock_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (` + fillIdentity + `) DO NOTHING`,
	values: func(m router.FillMsg) []any { return transformFill(m).values() },
}

// NewFillWriter creates a writer for the personal_fills table.
func NewFillWriter(cfg WriterConfig, input *router.GrowableBuffer[router.FillMsg], db BatchSender, logger *slog.Logger) *Writer[router.FillMsg] {
	return newWriter(cfg, fillTable, input, db, logger)
}

func transformFill(msg router.FillMsg) fillRow {
	f := msg.Fill
	return fillRow{
		AccountNo:     f.AccountNo,
		OrderNo:       f.OrderNo,
		OriginOrderNo: f.OriginOrderNo,
		ExecTime:      f.ExecTime,
		ReceivedAt:    msg.ReceivedAt,
		CustomerID:    f.CustomerID,
		Code:          f.Code,
		Direction:     string(f.Direction),
		Correction:    string(f.Correction),
		OrderKind:     string(f.OrderKind),
		ExecQty:       f.ExecQty,
		ExecPrice:     f.ExecPrice,
		OrderQty:      f.OrderQty,
		Executed:      f.Executed,
		Refused:       f.Refused,
		Accepted:      f.Accepted,
		BranchNo:      f.BranchNo,
		StockName:     f.StockName,
	}
}

func (r fillRow) values() []any {
	return []any{
		r.AccountNo, r.OrderNo, r.OriginOrderNo, r.ExecTime, r.ReceivedAt,
		r.CustomerID, r.Code, r.Direction, r.Correction, r.OrderKind, r.ExecQty, r.ExecPrice, r.OrderQty,
		r.Executed, r.Refused, r.Accepted, r.BranchNo, r.StockName,
	}
}
