// Package compaction поддерживает плотную нумерацию идентификаторов клиентов и товаров.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
)

// StagingOffset сдвигает строки во временный диапазон, не пересекающийся с живыми id.
const StagingOffset int64 = 1_000_000

// Шаги прохода, попадающие в domain.ConsistencyError.Step.
const (
	StepLock     = "lock"
	StepScan     = "scan"
	StepDetach   = "detach"
	StepStage    = "stage"
	StepFinalize = "finalize"
	StepRestore  = "restore"
	StepSequence = "sequence"
)

// Result описывает завершённый проход уплотнения.
type Result struct {
	Kind domain.EntityKind
	// Count равен числу строк после прохода; следующий id будет Count+1.
	Count int
	// Remap содержит только изменившиеся id: старый -> новый.
	Remap    map[int64]int64
	Duration time.Duration
}

// Renumbered сообщает, сменился ли хотя бы один идентификатор.
func (r Result) Renumbered() bool {
	return len(r.Remap) > 0
}

// Resolve возвращает новый id для старого; неизменившиеся id возвращаются как есть.
func (r Result) Resolve(id int64) int64 {
	if mapped, ok := r.Remap[id]; ok {
		return mapped
	}
	return id
}

// Option настраивает Engine.
type Option func(*Engine)

// WithDeferredConstraints включает режим, в котором FK не снимаются,
// а их проверка откладывается до коммита транзакции.
func WithDeferredConstraints() Option {
	return func(e *Engine) {
		e.deferred = true
	}
}

// WithLogger задаёт логгер движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics подключает метрики проходов.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine перенумеровывает строки вида сущности в диапазон 1..N
// и переписывает все ссылающиеся на них внешние ключи.
type Engine struct {
	store    domain.Store
	deferred bool
	logger   *log.Entry
	metrics  *metrics.SalesMetrics
	now      func() time.Time
}

// NewEngine создаёт движок уплотнения поверх хранилища.
func NewEngine(store domain.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: log.New().WithField("component", "compaction"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deferred сообщает, работает ли движок с отложенной проверкой FK.
func (e *Engine) Deferred() bool {
	return e.deferred
}

// Compact выполняет полный проход уплотнения внутри транзакции tx.
// Любой сбой после чтения id оборачивается в *domain.ConsistencyError;
// вызывающая сторона откатывает транзакцию и затем вызывает Restore.
func (e *Engine) Compact(ctx context.Context, tx domain.Tx, kind domain.EntityKind) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}

	start := e.now()
	result, err := e.compact(ctx, tx.Keyspace(), kind)
	result.Duration = time.Since(start)

	logger := e.logger.WithField("kind", kind)
	if err != nil {
		e.metrics.RecordCompactionFailed(string(kind), result.Duration)
		logger.WithError(err).Error("id compaction failed")
		return Result{}, err
	}

	e.metrics.RecordCompaction(string(kind), result.Count, len(result.Remap), result.Duration)
	logger.WithFields(log.Fields{
		"count":      result.Count,
		"renumbered": len(result.Remap),
		"duration":   result.Duration,
	}).Debug("id compaction finished")

	return result, nil
}

func (e *Engine) compact(ctx context.Context, ks domain.Keyspace, kind domain.EntityKind) (Result, error) {
	result := Result{Kind: kind, Remap: map[int64]int64{}}

	if err := ks.LockKind(ctx, kind); err != nil {
		return result, fail(kind, StepLock, err)
	}

	ids, err := ks.ListIDs(ctx, kind, 1)
	if err != nil {
		return result, fail(kind, StepScan, err)
	}

	if len(ids) == 0 {
		if err := ks.ResetSequence(ctx, kind, 0); err != nil {
			return result, fail(kind, StepSequence, err)
		}
		return result, nil
	}

	if maxID := ids[len(ids)-1]; maxID >= StagingOffset {
		return result, fail(kind, StepStage, fmt.Errorf("max id %d reaches staging offset %d", maxID, StagingOffset))
	}

	if e.deferred {
		err = ks.DeferReferences(ctx, kind)
	} else {
		err = ks.DropReferences(ctx, kind)
	}
	if err != nil {
		return result, fail(kind, StepDetach, err)
	}

	for _, id := range ids {
		if err := rekey(ctx, ks, kind, id, id+StagingOffset); err != nil {
			return result, fail(kind, StepStage, err)
		}
	}

	staged, err := ks.ListIDs(ctx, kind, StagingOffset)
	if err != nil {
		return result, fail(kind, StepFinalize, err)
	}
	if len(staged) != len(ids) {
		return result, fail(kind, StepFinalize, fmt.Errorf("staged %d rows, expected %d", len(staged), len(ids)))
	}

	for i, temp := range staged {
		final := int64(i + 1)
		if err := rekey(ctx, ks, kind, temp, final); err != nil {
			return result, fail(kind, StepFinalize, err)
		}
		if original := temp - StagingOffset; original != final {
			result.Remap[original] = final
		}
	}

	if !e.deferred {
		if err := ks.RestoreReferences(ctx, kind); err != nil {
			return result, fail(kind, StepRestore, err)
		}
	}

	result.Count = len(staged)
	if err := ks.ResetSequence(ctx, kind, int64(result.Count)); err != nil {
		return result, fail(kind, StepSequence, err)
	}

	return result, nil
}

// Restore выполняет компенсирующее действие после отката: возвращает FK-ограничения
// вне транзакции. Ошибка «ограничение уже существует» поглощается хранилищем.
func (e *Engine) Restore(ctx context.Context, kind domain.EntityKind) error {
	err := e.store.RestoreReferences(ctx, kind)
	e.metrics.RecordConstraintRestore(string(kind), err)

	logger := e.logger.WithField("kind", kind)
	if err != nil {
		logger.WithError(err).Error("failed to restore foreign key constraints")
		return fmt.Errorf("restore %s references: %w", kind, err)
	}
	logger.Warn("foreign key constraints restored after failed compaction")
	return nil
}

// Recover вызывается после отката транзакции, сорванной err. Для сбоев уплотнения
// восстанавливает ограничения и присоединяет ошибку восстановления к исходной.
func (e *Engine) Recover(ctx context.Context, err error) error {
	var consistencyErr *domain.ConsistencyError
	if !errors.As(err, &consistencyErr) {
		return err
	}
	// ctx запроса мог быть отменён; компенсация всё равно должна дойти до хранилища.
	restoreCtx := context.WithoutCancel(ctx)
	if restoreErr := e.Restore(restoreCtx, consistencyErr.Kind); restoreErr != nil {
		return errors.Join(err, restoreErr)
	}
	return err
}

func rekey(ctx context.Context, ks domain.Keyspace, kind domain.EntityKind, from, to int64) error {
	if err := ks.RekeyEntity(ctx, kind, from, to); err != nil {
		return fmt.Errorf("rekey %d -> %d: %w", from, to, err)
	}
	if err := ks.RekeyReferences(ctx, kind, from, to); err != nil {
		return fmt.Errorf("rekey references %d -> %d: %w", from, to, err)
	}
	return nil
}

func fail(kind domain.EntityKind, step string, err error) error {
	return &domain.ConsistencyError{Kind: kind, Step: step, Err: err}
}
