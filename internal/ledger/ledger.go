package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rickgao/kis-stream/internal/model"
)

// Ledger is the fill journal.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one journaled fill.
type Entry struct {
	ID         string
	AccountNo  string
	OrderNo    int64
	Code       string
	Direction  model.Direction
	ExecQty    int64
	ExecPrice  int64
	ExecTime   time.Time
	Executed   bool
	Source     string
	ReceivedAt time.Time
	RecordedAt time.Time
	Replays    int
	LastReplay *time.Time
}

// Result reports what Record did with a fill.
type Result struct {
	ID        string
	Duplicate bool
}

// Open creates or opens the journal at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			fill_key TEXT NOT NULL UNIQUE,
			account_no TEXT NOT NULL,
			order_no INTEGER NOT NULL,
			code TEXT NOT NULL,
			direction TEXT NOT NULL,
			exec_qty INTEGER NOT NULL,
			exec_price INTEGER NOT NULL,
			exec_time_unix_millis INTEGER NOT NULL,
			executed INTEGER NOT NULL,
			source TEXT NOT NULL,
			received_unix_millis INTEGER NOT NULL,
			recorded_unix_millis INTEGER NOT NULL,
			replays INTEGER NOT NULL DEFAULT 0,
			last_replay_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_account_order
			ON fills(account_no, order_no)`,
	}
	for _, q := range queries {
		if _, err := l.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the identity of a fill used for duplicate detection. Partial
// fills at different prices and the acceptance, refusal and execution
// notices of one order all get distinct keys.
func Key(f *model.PersonalFill) string {
	return strings.Join([]string{
		f.AccountNo,
		strconv.FormatInt(f.OrderNo, 10),
		strconv.FormatInt(f.ExecTime.UnixMilli(), 10),
		flag(f.Executed),
		strconv.FormatInt(f.ExecQty, 10),
		strconv.FormatInt(f.ExecPrice, 10),
		flag(f.Refused),
		flag(f.Accepted),
		string(f.Correction),
	}, "|")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Record journals a fill. A fill already present is not inserted again;
// its replay counter is bumped and Duplicate is set.
func (l *Ledger) Record(ctx context.Context, f *model.PersonalFill, source string, receivedAt time.Time) (Result, error) {
	if f == nil {
		return Result{}, errors.New("record fill: nil fill")
	}
	key := Key(f)
	now := l.now().UnixMilli()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM fills WHERE fill_key = ?", key).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			"UPDATE fills SET replays = replays + 1, last_replay_unix_millis = ? WHERE id = ?",
			now, id,
		); err != nil {
			return Result{}, fmt.Errorf("flag replay: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Result{}, fmt.Errorf("commit: %w", err)
		}
		return Result{ID: id, Duplicate: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Result{}, fmt.Errorf("look up fill: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO fills (id, fill_key, account_no, order_no, code, direction, exec_qty, exec_price,
			exec_time_unix_millis, executed, source, received_unix_millis, recorded_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, key, f.AccountNo, f.OrderNo, f.Code, string(f.Direction), f.ExecQty, f.ExecPrice,
		f.ExecTime.UnixMilli(), f.Executed, source, receivedAt.UnixMilli(), now,
	)
	if err != nil {
		return Result{}, fmt.Errorf("insert fill: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	return Result{ID: id}, nil
}

// List returns up to limit entries in the order they were first recorded.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, account_no, order_no, code, direction, exec_qty, exec_price, exec_time_unix_millis,
			executed, source, received_unix_millis, recorded_unix_millis, replays, last_replay_unix_millis
		 FROM fills
		 ORDER BY seq ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                              Entry
			direction                      string
			execMs, receivedMs, recordedMs int64
			lastReplay                     sql.NullInt64
		)
		if err := rows.Scan(
			&e.ID, &e.AccountNo, &e.OrderNo, &e.Code, &direction, &e.ExecQty, &e.ExecPrice, &execMs,
			&e.Executed, &e.Source, &receivedMs, &recordedMs, &e.Replays, &lastReplay,
		); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		e.Direction = model.Direction(direction)
		e.ExecTime = time.UnixMilli(execMs)
		e.ReceivedAt = time.UnixMilli(receivedMs)
		e.RecordedAt = time.UnixMilli(recordedMs)
		if lastReplay.Valid {
			t := time.UnixMilli(lastReplay.Int64)
			e.LastReplay = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
