package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/poiesic/chatstore/storage"
)

// KafkaWriter is the subset of *kafka.Writer used by KafkaSink.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per event. Messages are keyed by entity kind
// and key so that changes to one entity land on one partition in order.
type KafkaSink struct {
	writer KafkaWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", ErrSinkRequired)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSink{writer: w}, nil
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes the whole batch in one call.
func (s *KafkaSink) Deliver(ctx context.Context, batch storage.Batch) error {
	msgs, err := kafkaMessages(batch)
	if err != nil {
		return Permanent(err)
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func kafkaMessages(batch storage.Batch) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(batch.Events))
	for _, e := range batch.Events {
		env := NewEnvelope(e, batch.CommittedAt)
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", env.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(env.Entity + ":" + env.Key),
			Value: b,
			Headers: []kafka.Header{
				{Key: "event-id", Value: []byte(env.ID)},
				{Key: "event-kind", Value: []byte(env.Kind)},
			},
			Time: batch.CommittedAt,
		})
	}
	return msgs, nil
}
