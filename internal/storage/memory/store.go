// Package memory содержит in-memory хранилище для локальной разработки и тестов.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// Store реализует транзакционное in-memory хранилище. Писатели сериализуются мьютексом,
// транзакция работает с копией состояния, FK-ограничения проверяются как в СУБД.
type Store struct {
	mu     sync.Mutex
	state  *state
	outbox *OutboxRepository
}

// NewStore создаёт пустое хранилище с собственным outbox.
func NewStore() *Store {
	return &Store{
		state:  newState(),
		outbox: NewOutboxRepository(),
	}
}

// Outbox возвращает репозиторий, в который попадают события закоммиченных транзакций.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// WithinTx выполняет fn над копией состояния и подменяет состояние при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		state:    s.state.clone(),
		deferred: make(map[domain.EntityKind]bool),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for kind := range t.deferred {
		if err := t.state.checkReferences(kind); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	s.state = t.state
	for _, msg := range t.events {
		if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("flush outbox: %w", err)
		}
	}
	return nil
}

// RestoreReferences возвращает снятые FK-ограничения. Если ограничения на месте, ничего не делает.
func (s *Store) RestoreReferences(ctx context.Context, kind domain.EntityKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.state.detached[kind] {
		return nil
	}
	if err := s.state.checkReferences(kind); err != nil {
		return err
	}
	delete(s.state.detached, kind)
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// ConstraintsDetached сообщает, сняты ли FK на kind в закоммиченном состоянии.
func (s *Store) ConstraintsDetached(kind domain.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.detached[kind]
}

// tx реализует domain.Tx над рабочей копией состояния.
type tx struct {
	state    *state
	deferred map[domain.EntityKind]bool
	events   []domain.OutboxMessage
}

func (t *tx) Customers() domain.CustomerRepository { return customerRepository{t} }
func (t *tx) Products() domain.ProductRepository   { return productRepository{t} }
func (t *tx) Orders() domain.OrderRepository       { return orderRepository{t} }
func (t *tx) Invoices() domain.InvoiceRepository   { return invoiceRepository{t} }
func (t *tx) Keyspace() domain.Keyspace            { return keyspace{t} }
func (t *tx) Outbox() domain.OutboxWriter          { return txOutbox{t} }

// enforced сообщает, проверяются ли FK на kind немедленно.
func (t *tx) enforced(kind domain.EntityKind) bool {
	return !t.state.detached[kind] && !t.deferred[kind]
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*tx)(nil)
)
