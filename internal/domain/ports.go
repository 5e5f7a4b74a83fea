package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxWriter ставит событие в outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository отдаёт накопленные события воркеру публикации.
type OutboxRepository interface {
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxCleaner удаляет обработанные сообщения (sent и failed), обновлённые не позже before.
type OutboxCleaner interface {
	DeleteProcessed(before time.Time, limit int) (int, error)
}

// Типы агрегатов в outbox.
const (
	AggregateCustomer = "customer"
	AggregateProduct  = "product"
	AggregateOrder    = "order"
	AggregateInvoice  = "invoice"
	AggregateKeyspace = "keyspace"
)

// Типы событий в outbox.
const (
	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
	EventCustomerDeleted = "customer.deleted"
	EventProductCreated  = "product.created"
	EventProductUpdated  = "product.updated"
	EventProductDeleted  = "product.deleted"
	EventIDsCompacted    = "ids.compacted"
	EventOrderCreated    = "order.created"
	EventInvoiceIssued   = "invoice.issued"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
