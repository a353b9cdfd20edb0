package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/router"
)

// Record header keys.
const (
	HeaderEventID = "event-id"
	HeaderTrID    = "tr-id"
	HeaderSource  = "source"
)

// Envelope is the JSON value of every record.
type Envelope struct {
	EventID    string        `json:"event_id"`
	Channel    string        `json:"channel"`
	TrID       model.TrID    `json:"tr_id"`
	Time       time.Time     `json:"time"`
	ReceivedAt time.Time     `json:"received_at"`
	Source     string        `json:"source,omitempty"`
	Data       model.Message `json:"data"`
}

// Topic returns the topic a channel publishes to.
func Topic(prefix string, ch model.Channel) string {
	return prefix + "." + ch.String()
}

// Key returns the partition key for a message: its instrument code.
func Key(m model.Message) string {
	switch v := m.(type) {
	case *model.TradeTick:
		return v.Code
	case *model.OrderBook:
		return v.Code
	case *model.PersonalFill:
		return v.Code
	}
	return ""
}

// BuildRecord converts a routed message into a Kafka record.
func BuildRecord(prefix string, m router.PublishMsg) (*kgo.Record, error) {
	if m.Message == nil {
		return nil, fmt.Errorf("build record: nil message")
	}

	hdr := m.Message.Header()
	env := Envelope{
		EventID:    uuid.NewString(),
		Channel:    m.Message.Channel().String(),
		TrID:       hdr.TrID,
		Time:       hdr.Time,
		ReceivedAt: m.ReceivedAt,
		Source:     m.Source,
		Data:       m.Message,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Channel, err)
	}

	headers := []kgo.RecordHeader{
		{Key: HeaderEventID, Value: []byte(env.EventID)},
		{Key: HeaderTrID, Value: []byte(hdr.TrID)},
	}
	if m.Source != "" {
		headers = append(headers, kgo.RecordHeader{Key: HeaderSource, Value: []byte(m.Source)})
	}

	return &kgo.Record{
		Topic:     Topic(prefix, m.Message.Channel()),
		Key:       []byte(Key(m.Message)),
		Value:     value,
		Headers:   headers,
		Timestamp: hdr.Time,
	}, nil
}
