package events

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
)

// Emitter публикует уведомления после фиксации транзакции.
// Ошибка публикации логируется и считается, но никогда не возвращается вызывающему.
type Emitter struct {
	publisher domain.EventPublisher
	logger    *log.Entry
	metrics   *metrics.LedgerMetrics
}

// NewEmitter оборачивает publisher. publisher и metrics могут быть nil.
func NewEmitter(publisher domain.EventPublisher, logger *log.Entry, m *metrics.LedgerMetrics) *Emitter {
	if logger == nil {
		logger = log.New().WithField("component", "events")
	}
	return &Emitter{publisher: publisher, logger: logger, metrics: m}
}

// Emit отправляет событие; при ошибке или панике publisher событие теряется.
func (e *Emitter) Emit(ctx context.Context, name string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	if err := e.safePublish(ctx, name, payload); err != nil {
		e.metrics.RecordDroppedEvent(name)
		e.logger.WithError(err).WithField("event", name).Warn("failed to publish notification, dropped")
	}
}

func (e *Emitter) safePublish(ctx context.Context, name string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return e.publisher.Publish(ctx, name, payload)
}

// LogPublisher пишет уведомления в лог. Используется, когда брокер не настроен.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher, который только логирует.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.New().WithField("component", "events")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	p.logger.WithFields(log.Fields{
		"event":   name,
		"payload": string(body),
	}).Info("notification")
	return nil
}

var _ domain.EventPublisher = (*LogPublisher)(nil)
