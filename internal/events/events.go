// Package events publishes relay, access-list and lobby state changes for
// external consumers. Events never carry message content.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeUserWaiting   = "access.waiting"
	TypeUserApproved  = "access.approved"
	TypeUserBlocked   = "access.blocked"
	TypeUserForgotten = "access.forgotten"
	TypeRelayed       = "relay.forwarded"
	TypeDelivered     = "relay.delivered"
	TypeLobbyPending  = "lobby.pending"
	TypeLobbyChanged  = "lobby.changed"
	TypeLobbyRejected = "lobby.rejected"
)

// Event is one state change.
type Event struct {
	Type   string    `json:"type"`
	UserID int64     `json:"user_id,omitempty"`
	ChatID int64     `json:"chat_id,omitempty"`
	Tag    string    `json:"tag,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers events. Publish errors are informational; callers log
// and continue.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Emit publishes evt on p, tolerating a nil publisher and logging failures.
func Emit(ctx context.Context, p Publisher, evt Event) {
	if p == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, evt); err != nil {
		slog.Warn("Events: publish failed", "type", evt.Type, "error", err)
	}
}

// KafkaPublisher writes events as JSON to a Kafka topic keyed by user or chat.
// Writes are asynchronous; Publish only fails on encoding errors.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for a comma-separated broker list.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(addrs...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
			Async:                  true,
			Completion:             logFailedBatch,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := encode(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// logFailedBatch reports delivery failures of the async writer.
func logFailedBatch(messages []kafka.Message, err error) {
	if err != nil {
		slog.Warn("Events: kafka delivery failed", "messages", len(messages), "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(evt Event) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, err
	}
	key := evt.UserID
	if key == 0 {
		key = evt.ChatID
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: value,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}, nil
}
