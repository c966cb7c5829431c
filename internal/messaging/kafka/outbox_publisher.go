package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

var errNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует сообщения outbox в Kafka, ключуя их по агрегату,
// чтобы события одного заказа или продажи шли в одну партицию.
type OutboxTopicPublisher struct {
	producer   *Producer
	topic      string
	deadLetter bool
}

// NewOutboxPublisher создаёт publisher уведомлений; пустой topic означает TopicEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// NewDeadLetterPublisher создаёт publisher для сообщений, не доставленных после всех попыток.
func NewDeadLetterPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetter
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, deadLetter: true}
}

type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errNotInitialized
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	body, err := json.Marshal(envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", msg.ID, err)
	}

	headers := map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
		HeaderOutboxID:      msg.ID,
	}
	if p.deadLetter {
		headers[HeaderDeadLetter] = "true"
	}
	return p.producer.Send(ctx, p.topic, key, body, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
