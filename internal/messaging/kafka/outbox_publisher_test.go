package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		assert.Equal(t, "outbox-1", env.ID)
		assert.Equal(t, "sale", env.AggregateType)
		assert.Equal(t, domain.EventSaleReturned, env.EventType)
		assert.JSONEq(t, `{"saleId":"sale-1"}`, string(env.Payload))
		assert.False(t, env.PublishedAt.IsZero())
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), "")
	assert.Equal(t, TopicEvents, publisher.topic)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     domain.EventSaleReturned,
		Payload:       []byte(`{"saleId":"sale-1"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestDeadLetterPublisher_MarksHeaders(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDeadLetter, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "outbox-9", string(key), "empty aggregate id falls back to outbox id")

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		assert.Equal(t, "true", headers[HeaderDeadLetter])
		assert.Equal(t, "outbox-9", headers[HeaderOutboxID])
		return nil
	})

	publisher := NewDeadLetterPublisher(newProducer(mockProducer, nil), "")
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:        "outbox-9",
		EventType: domain.EventOrderCanceled,
		Payload:   []byte(`{"orderId":"o"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer, nil), TopicEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-2",
		EventType:   domain.EventOrderCreated,
		Payload:     []byte(`{}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	err := NewOutboxPublisher(nil, TopicEvents).Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"})
	assert.ErrorIs(t, err, errNotInitialized)
}
