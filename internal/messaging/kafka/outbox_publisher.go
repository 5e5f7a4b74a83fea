package kafka

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет сообщения outbox в один topic. События одного
// агрегата получают один ключ и попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher с пустым topic публикует в TopicSalesEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if p.topic == "" {
		p.topic = TopicSalesEvents
	}
	return p
}

func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}
	envelope := NewEnvelope(msg, p.now())
	return p.producer.PublishEventWithHeaders(p.topic, envelope.Key(), envelope, envelope.Headers())
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
