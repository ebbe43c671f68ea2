package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes change events to the feed topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.writer.WriteMessages(wctx, kafka.Message{Key: []byte(ev.ID), Value: b})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// KafkaSubscription adapts a consumer-group reader to the Subscription
// interface. Transient read errors back off and retry internally; only
// context cancellation and decode failures surface to the caller.
type KafkaSubscription struct {
	reader  *kafka.Reader
	backoff time.Duration
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

func NewKafkaSubscription(brokers []string, topic, group string) *KafkaSubscription {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	return &KafkaSubscription{reader: r, backoff: initialBackoff}
}

func (s *KafkaSubscription) Next(ctx context.Context) (Event, error) {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			time.Sleep(s.backoff)
			s.backoff *= 2
			if s.backoff > maxBackoff {
				s.backoff = maxBackoff
			}
			continue
		}
		s.backoff = initialBackoff

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return ev, nil
	}
}

func (s *KafkaSubscription) Close() error { return s.reader.Close() }
