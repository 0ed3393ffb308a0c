package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a topic shared by every gateway. Writes are
// synchronous, so the batch timeout is kept short.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{Value: value, Time: ev.Timestamp}
	if len(ev.Topics) > 0 {
		msg.Key = []byte(ev.Topics[0])
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewFanoutReader joins a consumer group of its own so that every gateway
// instance sees every event. It starts at the newest offset.
func NewFanoutReader(brokers []string, topic, instance string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "gateway-" + instance,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
}

// MessageReader is the part of *kafka.Reader Consume needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Consume republishes every event read from r into pub until ctx is done.
// Undecodable records are skipped.
func Consume(ctx context.Context, r MessageReader, pub Publisher, log zerolog.Logger) error {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Msg("kafka read failed, retrying in 1s")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable event")
			continue
		}
		if err := pub.Publish(ctx, ev); err != nil {
			log.Debug().Err(err).Msg("local publish failed")
		}
	}
}
