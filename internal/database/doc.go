// Package database opens the TimescaleDB pool the writers insert into.
// Ticks and order-book updates land in hypertables; personal fills share
// the database in a plain table.
package database
