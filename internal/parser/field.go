package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/protocol"
)

// field decodes one positional value into msg. date is the business date
// time-of-day columns are placed on.
type field[T any] struct {
	name   string
	decode func(msg *T, v string, date time.Time) error
}

// layout is the field table for one message type.
type layout[T any] struct {
	fields []field[T]

	// dateField names the column holding the business date. When empty the
	// current KST date is used.
	dateField string
	dateIndex int

	finish func(msg *T, trID model.TrID) model.Message
}

func newLayout[T any](dateField string, finish func(*T, model.TrID) model.Message, fields ...[]field[T]) *layout[T] {
	l := &layout[T]{dateField: dateField, dateIndex: -1, finish: finish}
	for _, group := range fields {
		l.fields = append(l.fields, group...)
	}
	for i, f := range l.fields {
		if f.name == dateField {
			l.dateIndex = i
		}
	}
	return l
}

func (l *layout[T]) width() int { return len(l.fields) }

func (l *layout[T]) decodeRecord(trID model.TrID, record int, values []string, today time.Time) (model.Message, error) {
	date := today
	if l.dateIndex >= 0 {
		d, err := model.ParseDate(values[l.dateIndex])
		if err != nil {
			return nil, &FrameParseError{TrID: trID, Record: record, Field: l.dateField, Index: l.dateIndex, Value: values[l.dateIndex], Err: err}
		}
		date = d
	}

	msg := new(T)
	for i, f := range l.fields {
		if err := f.decode(msg, values[i], date); err != nil {
			return nil, &FrameParseError{TrID: trID, Record: record, Field: f.name, Index: i, Value: values[i], Err: err}
		}
	}
	return l.finish(msg, trID), nil
}

// decodeRecords splits body on the field separator and decodes count
// consecutive records.
func decodeRecords[T any](l *layout[T], trID model.TrID, count int, body string, today time.Time) ([]model.Message, error) {
	values := strings.Split(body, protocol.FieldSep)
	width := l.width()
	if len(values) != count*width {
		return nil, &FrameParseError{
			TrID:  trID,
			Index: -1,
			Err:   fieldCountError(count, width, len(values)),
		}
	}

	msgs := make([]model.Message, 0, count)
	for r := 0; r < count; r++ {
		m, err := l.decodeRecord(trID, r, values[r*width:(r+1)*width], today)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// -----------------------------------------------------------------------------
// Decoders
// -----------------------------------------------------------------------------

func text[T any](name string, get func(*T) *string) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		*get(m) = v
		return nil
	}}
}

func integer[T any](name string, get func(*T) *int64) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*get(m) = n
		return nil
	}}
}

// lenientInt reads blank or non-numeric values as 0.
func lenientInt[T any](name string, get func(*T) *int64) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			n = 0
		}
		*get(m) = n
		return nil
	}}
}

func number[T any](name string, get func(*T) *decimal.Decimal) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*get(m) = d
		return nil
	}}
}

func flag[T any](name string, get func(*T) *bool) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		*get(m) = model.ParseBool(v)
		return nil
	}}
}

// clock places an HHMMSS value on the record's business date.
func clock[T any](name string, get func(*T) *time.Time) field[T] {
	return field[T]{name, func(m *T, v string, date time.Time) error {
		t, err := model.OnDate(date, v)
		if err != nil {
			return err
		}
		*get(m) = t
		return nil
	}}
}

func date[T any](name string, get func(*T) *time.Time) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		t, err := model.ParseDate(v)
		if err != nil {
			return err
		}
		*get(m) = t
		return nil
	}}
}

// optionalDate leaves the target nil when the value is blank or not a date.
func optionalDate[T any](name string, get func(*T) **time.Time) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		if t, err := model.ParseDate(v); err == nil {
			*get(m) = &t
		}
		return nil
	}}
}

// code decodes a closed enum.
func code[T, C any](name string, parse func(string) (C, error), get func(*T) *C) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		c, err := parse(v)
		if err != nil {
			return err
		}
		*get(m) = c
		return nil
	}}
}

// rawCode keeps a code whose value set is not published.
func rawCode[T any, S ~string](name string, get func(*T) *S) field[T] {
	return field[T]{name, func(m *T, v string, _ time.Time) error {
		*get(m) = S(v)
		return nil
	}}
}
