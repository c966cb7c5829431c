package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

// Publisher кладёт уведомления в outbox; в брокер их переносит Worker.
type Publisher struct {
	repo domain.OutboxRepository
}

// NewPublisher создаёт publisher поверх outbox-репозитория.
func NewPublisher(repo domain.OutboxRepository) *Publisher {
	return &Publisher{repo: repo}
}

// Publish сериализует payload в JSON и ставит сообщение в очередь.
func (p *Publisher) Publish(ctx context.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}

	aggregateType, aggregateID := domain.AggregateOf(payload)
	_, err = p.repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     name,
		Payload:       body,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
