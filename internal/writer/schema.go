package writer

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trade_ticks (
		code           TEXT        NOT NULL,
		exec_time      TIMESTAMPTZ NOT NULL,
		business_date  DATE        NOT NULL,
		received_at    TIMESTAMPTZ NOT NULL,
		price          BIGINT      NOT NULL,
		volume         BIGINT      NOT NULL,
		cum_volume     BIGINT      NOT NULL,
		cum_amount     BIGINT      NOT NULL,
		change_vs_prev BIGINT      NOT NULL,
		sign           TEXT        NOT NULL,
		rate_vs_prev   NUMERIC     NOT NULL,
		best_ask       BIGINT      NOT NULL,
		best_bid       BIGINT      NOT NULL,
		exec_class     TEXT        NOT NULL,
		strength       NUMERIC     NOT NULL,
		time_class     TEXT        NOT NULL,
		halted         BOOLEAN     NOT NULL,
		UNIQUE (code, exec_time, cum_volume)
	)`,
	`CREATE TABLE IF NOT EXISTS orderbook_depth (
		code            TEXT        NOT NULL,
		quote_time      TIMESTAMPTZ NOT NULL,
		received_at     TIMESTAMPTZ NOT NULL,
		time_class      TEXT        NOT NULL,
		ask_prices      BIGINT[]    NOT NULL,
		bid_prices      BIGINT[]    NOT NULL,
		ask_qtys        BIGINT[]    NOT NULL,
		bid_qtys        BIGINT[]    NOT NULL,
		total_ask_qty   BIGINT      NOT NULL,
		total_bid_qty   BIGINT      NOT NULL,
		predicted_price BIGINT      NOT NULL,
		predicted_qty   BIGINT      NOT NULL,
		predicted_rate  NUMERIC     NOT NULL,
		cum_volume      BIGINT      NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS personal_fills (
		account_no      TEXT        NOT NULL,
		order_no        BIGINT      NOT NULL,
		origin_order_no BIGINT      NOT NULL,
		exec_time       TIMESTAMPTZ NOT NULL,
		received_at     TIMESTAMPTZ NOT NULL,
		customer_id     TEXT        NOT NULL,
		code            TEXT        NOT NULL,
		direction       TEXT        NOT NULL,
		correction      TEXT        NOT NULL,
		order_kind      TEXT        NOT NULL,
		exec_qty        BIGINT      NOT NULL,
		exec_price      BIGINT      NOT NULL,
		order_qty       BIGINT      NOT NULL,
		executed        BOOLEAN     NOT NULL,
		refused         BOOLEAN     NOT NULL,
		accepted        BOOLEAN     NOT NULL,
		branch_no       TEXT        NOT NULL,
		stock_name      TEXT        NOT NULL,
		UNIQUE (` + fillIdentity + `)
	)`,
}

// Hypertables partition the two market tables by their event time.
var hypertables = []string{
	`SELECT create_hypertable('trade_ticks', 'exec_time', if_not_exists => TRUE)`,
	`SELECT create_hypertable('orderbook_depth', 'quote_time', if_not_exists => TRUE)`,
}

// EnsureSchema creates the writer tables when missing. With hypertable set
// the market tables are converted with the TimescaleDB extension.
func EnsureSchema(ctx context.Context, db Execer, hypertable bool) error {
	stmts := schema
	if hypertable {
		stmts = append(append([]string(nil), schema...), hypertables...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
