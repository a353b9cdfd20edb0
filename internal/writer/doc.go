// Package writer implements batch writers for decoded stream messages.
//
// Writers:
//   - Trade tick writer (TimescaleDB, trade_ticks)
//   - Order-book writer (TimescaleDB, orderbook_depth)
//   - Personal fill writer (TimescaleDB, personal_fills)
//
// All writers use append-only semantics (never update, only insert).
// Prices are stored as KRW integers; rates and ratios as numeric.
package writer
