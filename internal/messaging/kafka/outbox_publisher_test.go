package kafka

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxPublisher_Publish(t *testing.T) {
	producer, mockProducer := testProducer(t)
	publisher := NewOutboxPublisher(producer, "")
	publishedAt := time.Date(2025, time.November, 23, 10, 30, 0, 0, time.UTC)
	publisher.now = func() time.Time { return publishedAt }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicSalesEvents {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "keyspace:customer" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if headerValue(msg, HeaderEventType) != domain.EventIDsCompacted {
			return errors.New("event type header missing")
		}
		if headerValue(msg, HeaderOutboxID) != "outbox-1" {
			return errors.New("outbox id header missing")
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		env, err := ParseEnvelope(value)
		if err != nil {
			return err
		}
		if !env.PublishedAt.Equal(publishedAt) || string(env.Payload) != `{"kind":"customer","count":2}` {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		return nil
	})

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateKeyspace,
		AggregateID:   "customer",
		EventType:     domain.EventIDsCompacted,
		Payload:       []byte(`{"kind":"customer","count":2}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_KeyFallsBackToOutboxID(t *testing.T) {
	producer, mockProducer := testProducer(t)
	publisher := NewOutboxPublisher(producer, TopicDeadLetterQueue)
	assert.Equal(t, TopicDeadLetterQueue, publisher.Topic())

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "outbox-9" {
			return fmt.Errorf("unexpected key %q", key)
		}
		return nil
	})

	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-9", EventType: domain.EventOrderCreated}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	producer, mockProducer := testProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := NewOutboxPublisher(producer, TopicSalesEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "3",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"id":3}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	publisher := NewOutboxPublisher(nil, TopicSalesEvents)
	assert.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}))

	var nilPublisher *OutboxTopicPublisher
	assert.Error(t, nilPublisher.Publish(domain.OutboxMessage{ID: "outbox-4"}))
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2025, time.November, 23, 11, 0, 0, 0, time.UTC)
	env := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-5",
		AggregateType: domain.AggregateInvoice,
		AggregateID:   "12",
		EventType:     domain.EventInvoiceIssued,
	}, at)

	assert.JSONEq(t, `null`, string(env.Payload))
	assert.Equal(t, at, env.PublishedAt)
	assert.Equal(t, "invoice:12", env.Key())
	assert.Equal(t, map[string]string{
		HeaderEventType:     domain.EventInvoiceIssued,
		HeaderAggregateType: domain.AggregateInvoice,
		HeaderOutboxID:      "outbox-5",
	}, env.Headers())
}
