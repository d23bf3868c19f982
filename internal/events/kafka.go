package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events as JSON messages keyed by model id so that a
// model's events land on one partition in order.
type KafkaPublisher struct {
	w   *kafka.Writer
	log zerolog.Logger
}

// NewKafkaPublisher creates an asynchronous writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{log: log.With().Str("component", "events").Logger()}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Warn().Err(err).Int("messages", len(msgs)).Msg("kafka publish failed")
			}
		},
	}
	return p
}

func (p *KafkaPublisher) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		p.log.Warn().Err(err).Str("event", e.Name).Msg("encode event")
		return
	}
	// Async writer: returns once the message is buffered.
	if err := p.w.WriteMessages(context.Background(), kafka.Message{Key: []byte(e.ModelID), Value: b}); err != nil {
		p.log.Warn().Err(err).Str("event", e.Name).Msg("enqueue event")
	}
}

// Close flushes buffered messages.
func (p *KafkaPublisher) Close() error { return p.w.Close() }
