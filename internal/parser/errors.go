package parser

import (
	"errors"
	"fmt"

	"github.com/rickgao/kis-stream/internal/model"
)

var (
	// ErrFieldCount is returned when a frame does not carry count × width values.
	ErrFieldCount = errors.New("field count mismatch")

	// ErrUnexpectedEncryption is returned for encrypted market-data frames,
	// which the broker does not send and which carry no key.
	ErrUnexpectedEncryption = errors.New("unexpected encrypted frame")

	// ErrNoCipher is returned for an encrypted personal fill received
	// before any key material was captured.
	ErrNoCipher = errors.New("no key material for encrypted payload")
)

// FrameParseError describes a data frame that could not be decoded. Only
// that frame is lost; the connection stays usable.
type FrameParseError struct {
	TrID   model.TrID
	Record int    // record within a multi-record frame
	Field  string // broker column name; empty for frame-level failures
	Index  int    // position within the record
	Value  string
	Err    error
}

func (e *FrameParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse %s frame: %v", e.TrID, e.Err)
	}
	return fmt.Sprintf("parse %s frame: record %d field %s[%d]=%q: %v",
		e.TrID, e.Record, e.Field, e.Index, truncate(e.Value, 64), e.Err)
}

func (e *FrameParseError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fieldCountError(count, width, got int) error {
	return fmt.Errorf("%w: want %d record(s) of %d values, got %d values", ErrFieldCount, count, width, got)
}
