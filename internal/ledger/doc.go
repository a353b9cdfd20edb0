// Package ledger keeps a local SQLite journal of personal fills.
//
// A fill is identified by its account, order, execution time, quantity and
// price together with the notice flags and correction class.
// After a resubscribe the broker can resend notices already seen; those are
// flagged as replays on the original entry instead of being recorded twice.
package ledger
