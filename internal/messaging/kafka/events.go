package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// Topics для Kafka
const (
	TopicSalesEvents     = "salesmaster.events"
	TopicDeadLetterQueue = "salesmaster.events.dlq"
)

// Kafka headers, по которым подписчики фильтруют события без разбора payload.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope описывает формат сообщения, публикуемого из transactional outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox; пустой payload публикуется как JSON null.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

// Key возвращает ключ партиционирования конверта, см. MessageKey.
func (e Envelope) Key() string {
	return MessageKey(e.AggregateType, e.AggregateID, e.ID)
}

func (e Envelope) Headers() map[string]string {
	return map[string]string{
		HeaderEventType:     e.EventType,
		HeaderAggregateType: e.AggregateType,
		HeaderOutboxID:      e.ID,
	}
}

// ParseEnvelope разбирает значение Kafka-сообщения.
func ParseEnvelope(value []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.EventType == "" {
		return nil, errors.New("envelope without event_type")
	}
	return &envelope, nil
}

// MessageKey строит ключ партиционирования: тип и id агрегата, либо id события для агрегатов без id.
func MessageKey(aggregateType, aggregateID, eventID string) string {
	if aggregateID == "" {
		return eventID
	}
	return aggregateType + ":" + aggregateID
}
