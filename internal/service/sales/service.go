// Package sales реализует сценарии работы с клиентами, товарами, заказами и счетами.
package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/compaction"
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики заказов и счетов.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени (даты заказов и номера счетов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInvoiceNumberer задаёт нумератор счетов.
func WithInvoiceNumberer(n *InvoiceNumberer) Option {
	return func(s *Service) {
		if n != nil {
			s.numberer = n
		}
	}
}

// Service владеет границами транзакций: каждая операция выполняется в одной
// транзакции хранилища, создание и удаление клиентов и товаров завершаются уплотнением.
type Service struct {
	store    domain.Store
	engine   *compaction.Engine
	composer *OrderComposer
	numberer *InvoiceNumberer
	logger   *log.Entry
	metrics  *metrics.SalesMetrics
	now      func() time.Time
}

// NewService создаёт сервис поверх хранилища и движка уплотнения.
func NewService(store domain.Store, engine *compaction.Engine, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		numberer: NewInvoiceNumberer(NumberingCount, domain.DefaultInvoicePrefix, time.UTC),
		logger:   log.New().WithField("component", "sales-service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.composer = NewOrderComposer(s.now)
	return s
}

// unitOfWork связывает транзакцию операции с учётом поставленных в outbox событий.
type unitOfWork struct {
	domain.Tx
	events int
}

// inTx выполняет fn в транзакции. После отката сорванного уплотнения
// восстанавливает FK-ограничения вне транзакции.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, uow *unitOfWork) error) error {
	var uow *unitOfWork
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		uow = &unitOfWork{Tx: tx}
		return fn(ctx, uow)
	})
	if err != nil {
		return s.engine.Recover(ctx, err)
	}
	for i := 0; i < uow.events; i++ {
		s.metrics.RecordOutboxEvent()
	}
	return nil
}

// lock захватывает виды сущностей в фиксированном порядке, чтобы встречные
// транзакции не взаимоблокировались.
func (uow *unitOfWork) lock(ctx context.Context, kinds ...domain.EntityKind) error {
	ordered := slices.Clone(kinds)
	slices.Sort(ordered)
	for _, kind := range slices.Compact(ordered) {
		if err := uow.Keyspace().LockKind(ctx, kind); err != nil {
			return fmt.Errorf("lock %s: %w", kind, err)
		}
	}
	return nil
}

// emit ставит событие в outbox текущей транзакции.
func (uow *unitOfWork) emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	uow.events++
	return nil
}

// compact уплотняет kind и публикует перенумерацию, если она произошла.
func (s *Service) compact(ctx context.Context, uow *unitOfWork, kind domain.EntityKind) (compaction.Result, error) {
	result, err := s.engine.Compact(ctx, uow, kind)
	if err != nil {
		return compaction.Result{}, err
	}
	if !result.Renumbered() {
		return result, nil
	}

	s.logger.WithFields(log.Fields{
		"kind":       kind,
		"count":      result.Count,
		"renumbered": len(result.Remap),
	}).Info("ids compacted")

	if err := uow.emit(ctx, domain.AggregateKeyspace, string(kind), domain.EventIDsCompacted, newCompactedEvent(result)); err != nil {
		return compaction.Result{}, err
	}
	return result, nil
}

// CompactIDs выполняет внеплановый проход уплотнения для kind.
func (s *Service) CompactIDs(ctx context.Context, kind domain.EntityKind) (compaction.Result, error) {
	if !kind.Valid() {
		return compaction.Result{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}

	var result compaction.Result
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, kind); err != nil {
			return err
		}
		var err error
		result, err = s.compact(ctx, uow, kind)
		return err
	})
	if err != nil {
		return compaction.Result{}, err
	}
	return result, nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
