package main

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/rickgao/kis-stream/internal/connection"
	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/parser"
)

// cell is one column value.
type cell struct {
	text  string
	width int
	right bool
}

// pad fits s into w display columns. Hangul is two columns wide.
func pad(s string, w int, right bool) string {
	s = runewidth.Truncate(s, w, "…")
	gap := w - runewidth.StringWidth(s)
	if gap <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

func row(cells ...cell) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = pad(c.text, c.width, c.right)
	}
	return strings.Join(parts, " ")
}

// formatter renders stream events as fixed-width lines.
type formatter struct {
	width int // terminal width; 0 disables clipping
}

func (f formatter) Format(ev connection.Event) string {
	var line string
	switch {
	case ev.Err != nil:
		line = formatError(ev.Err)
	case ev.Message != nil:
		line = formatMessage(ev.Message)
	default:
		return ""
	}
	if f.width > 0 {
		line = runewidth.Truncate(line, f.width, "…")
	}
	return line
}

func formatMessage(m model.Message) string {
	switch v := m.(type) {
	case *model.TradeTick:
		return formatTick(v)
	case *model.OrderBook:
		return formatBook(v)
	case *model.PersonalFill:
		return formatFill(v)
	}
	return "[?] " + string(m.Header().TrID)
}

func formatTick(t *model.TradeTick) string {
	return row(
		cell{text: "[TICK]", width: 6},
		cell{text: t.ExecTime.Format("15:04:05"), width: 8},
		cell{text: t.Code, width: 6},
		cell{text: num(t.Price), width: 10, right: true},
		cell{text: signed(t.SignVsPrevDay, t.ChangeVsPrev), width: 9, right: true},
		cell{text: t.RateVsPrev.StringFixed(2) + "%", width: 8, right: true},
		cell{text: "vol " + num(t.Volume), width: 12, right: true},
		cell{text: "cum " + num(t.CumVolume), width: 16, right: true},
		cell{text: "str " + t.Strength.StringFixed(2), width: 10, right: true},
	)
}

func formatBook(o *model.OrderBook) string {
	return row(
		cell{text: "[BOOK]", width: 6},
		cell{text: o.Time.Format("15:04:05"), width: 8},
		cell{text: o.Code, width: 6},
		cell{text: num(o.AskPrices[0]) + " x " + num(o.AskQtys[0]), width: 20, right: true},
		cell{text: num(o.BidPrices[0]) + " x " + num(o.BidQtys[0]), width: 20, right: true},
		cell{text: "ask " + num(o.TotalAskQty), width: 14, right: true},
		cell{text: "bid " + num(o.TotalBidQty), width: 14, right: true},
	)
}

func formatFill(f *model.PersonalFill) string {
	status := "accepted"
	switch {
	case f.Refused:
		status = "refused"
	case f.Executed:
		status = "executed"
	}
	return row(
		cell{text: "[FILL]", width: 6},
		cell{text: f.ExecTime.Format("15:04:05"), width: 8},
		cell{text: f.Code, width: 6},
		cell{text: f.StockName, width: 16},
		cell{text: f.Direction.String(), width: 3},
		cell{text: num(f.ExecQty) + " @ " + num(f.ExecPrice), width: 18, right: true},
		cell{text: "#" + strconv.FormatInt(f.OrderNo, 10), width: 12},
		cell{text: status, width: 8},
	)
}

func formatError(err error) string {
	var (
		fpe *parser.FrameParseError
		ce  *decrypt.CryptoError
		cne *connection.ConnectionError
	)
	switch {
	case errors.As(err, &fpe):
		return "[PARSE] " + err.Error()
	case errors.As(err, &ce):
		return "[CRYPTO] " + err.Error()
	case errors.As(err, &cne):
		return "[CONN] " + err.Error()
	}
	return "[ERROR] " + err.Error()
}

func signed(sign model.PriceSign, change int64) string {
	switch sign {
	case model.SignUpperLimit, model.SignRise:
		if change > 0 {
			return "+" + num(change)
		}
	case model.SignFall, model.SignLowerLimit:
		if change > 0 {
			return "-" + num(change)
		}
	}
	return num(change)
}

// num formats n with thousands separators.
func num(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
