package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/kis-stream/internal/model"
)

const (
	// FieldSep separates positional body values.
	FieldSep = "^"

	// HeaderSep separates the sub-fields of the compound data-frame header.
	HeaderSep = "|"
)

// ErrMalformedFrame is returned when a data frame's compound header cannot
// be split into its encryption flag, code, count and body.
var ErrMalformedFrame = errors.New("malformed data frame")

// Frame is one inbound text frame: either *ControlFrame or *DataFrame.
type Frame interface {
	frame()
}

// ControlFrame is a JSON frame: a subscribe acknowledgement or a keep-alive.
type ControlFrame struct {
	TrID    model.TrID
	TrKey   string
	Time    time.Time // header.datetime; zero when absent
	Encrypt string

	// HasMessage is true when body.msg1 was present, which is what makes a
	// control frame an acknowledgement.
	HasMessage  bool
	ReturnCode  string // body.rt_cd
	MessageCode string // body.msg_cd
	Message     string // body.msg1
	IV          string // body.output.iv
	Key         string // body.output.key

	Raw []byte
}

// DataFrame is a positional frame split at its compound header.
type DataFrame struct {
	Encrypted bool
	TrID      model.TrID
	Count     int
	// Body is everything after the third header separator: '^'-separated
	// values for market data, a base64 payload for personal fills.
	Body string
}

func (*ControlFrame) frame() {}
func (*DataFrame) frame()    {}

// IsKeepAlive reports whether the frame is a server heartbeat that must be
// echoed back unchanged.
func (c *ControlFrame) IsKeepAlive() bool {
	return c.TrID == model.TrKeepAlive
}

// IsAck reports whether the frame answers a subscribe or unsubscribe.
func (c *ControlFrame) IsAck() bool {
	return !c.IsKeepAlive() && c.HasMessage
}

// controlWire keeps header and body values raw so a field sent with an
// unexpected JSON type does not fail the whole frame.
type controlWire struct {
	Header map[string]json.RawMessage `json:"header"`
	Body   map[string]json.RawMessage `json:"body"`
}

// Classify checks whether raw is a JSON object. Objects become control frames;
// anything else must be a positional data frame.
func Classify(raw []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return parseControl(trimmed, raw)
	}
	return splitData(string(trimmed))
}

func parseControl(obj, raw []byte) (*ControlFrame, error) {
	var w controlWire
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("%w: control frame: %v", ErrMalformedFrame, err)
	}

	h := w.Header
	c := &ControlFrame{
		TrID:    model.TrID(scalar(h["tr_id"])),
		TrKey:   scalar(h["tr_key"]),
		Encrypt: scalar(h["encrypt"]),
		Raw:     raw,
	}
	if dt := scalar(h["datetime"]); dt != "" {
		// A bad timestamp on a heartbeat is not worth failing the frame.
		if t, err := model.ParseDateTime(dt); err == nil {
			c.Time = t
		}
	}
	if b := w.Body; b != nil {
		c.ReturnCode = scalar(b["rt_cd"])
		c.MessageCode = scalar(b["msg_cd"])
		if msg, ok := b["msg1"]; ok && !isNull(msg) {
			c.HasMessage = true
			c.Message = scalar(msg)
		}
		var out map[string]json.RawMessage
		if json.Unmarshal(b["output"], &out) == nil {
			c.IV = scalar(out["iv"])
			c.Key = scalar(out["key"])
		}
	}
	return c, nil
}

// scalar returns a JSON string's value or a number's literal text. Any
// other kind reads as empty.
func scalar(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func splitData(s string) (*DataFrame, error) {
	parts := strings.SplitN(s, HeaderSep, 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: want 4 header fields, got %d", ErrMalformedFrame, len(parts))
	}

	var encrypted bool
	switch parts[0] {
	case "0":
	case "1":
		encrypted = true
	default:
		return nil, fmt.Errorf("%w: encryption flag %q", ErrMalformedFrame, parts[0])
	}

	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 1 {
		return nil, fmt.Errorf("%w: item count %q", ErrMalformedFrame, parts[2])
	}

	return &DataFrame{
		Encrypted: encrypted,
		TrID:      model.TrID(parts[1]),
		Count:     count,
		Body:      parts[3],
	}, nil
}
