package notify

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/fieldops-dev/fieldops/internal/models"
)

// EventLogPublisher streams every lifecycle event onto the internal Kafka
// topic for downstream consumers (reporting, audit). It is one more
// best-effort channel; the authoritative JobEvent record is in the store.
type EventLogPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewEventLogPublisher builds a Kafka-backed publisher.
func NewEventLogPublisher(brokers []string, topic string) (*EventLogPublisher, error) {
	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return &EventLogPublisher{publisher: pub, topic: topic}, nil
}

// NewEventLogPublisherWith wraps an existing watermill publisher; tests pass
// an in-memory one.
func NewEventLogPublisherWith(pub message.Publisher, topic string) *EventLogPublisher {
	return &EventLogPublisher{publisher: pub, topic: topic}
}

func (p *EventLogPublisher) Publish(ev models.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *EventLogPublisher) Close() error {
	return p.publisher.Close()
}
