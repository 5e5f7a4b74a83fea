package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Результаты публикации для метрики попыток.
const (
	publishSent       = "sent"
	publishRetryError = "retry_error"
	publishFailed     = "failed"
	publishDLQFailed  = "dlq_failed"
)

// Worker публикует pending-события продаж (клиенты, товары, заказы, счета,
// перенумерация id) из outbox в брокер.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	// dlq получает события, не доставленные за maxAttempts; nil оставляет их только в статусе failed.
	dlq     domain.OutboxPublisher
	logger  *log.Entry
	metrics *metrics.SalesMetrics

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
}

// Option настраивает Worker. Нулевые и отрицательные значения оставляют умолчания.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics подключает счётчики попыток и gauge backlog'а.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = p }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события до DLQ.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
// Ноль отключает паузы.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(w *Worker) { w.baseDelay = max(d, 0) }
}

// NewWorker создаёт outbox worker поверх репозитория и publisher'а.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// BatchResult подводит итог одного цикла публикации.
type BatchResult struct {
	Sent   int
	Failed int
}

// Run публикует backlog сразу и затем раз в pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает до batchSize pending-событий и публикует их в порядке постановки.
// Событие, не ушедшее за maxAttempts, помечается failed и копируется в DLQ; цикл идёт дальше.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}
	defer w.refreshBacklogMetrics()

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, event) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	if result.Failed > 0 {
		w.logger.WithFields(log.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
		}).Warn("outbox batch finished with failures")
	} else if result.Sent > 0 {
		w.logger.WithField("sent", result.Sent).Debug("outbox batch published")
	}
	return result
}

// deliver публикует одно событие и фиксирует его итоговый статус в outbox.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	publishErr := w.publishWithRetry(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as sent")
		}
		return true
	}
	if ctx.Err() != nil {
		// Остановка воркера: событие остаётся pending до следующего запуска.
		return false
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordOutboxPublish(publishFailed)
	if err := w.deadLetter(event, publishErr); err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordOutboxPublish(publishDLQFailed)
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			w.metrics.RecordOutboxPublish(publishSent)
			return nil
		}
		w.metrics.RecordOutboxPublish(publishRetryError)
		if attempt >= w.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, attempt, err)
		}

		delay := w.retryBackoff(attempt)
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// retryBackoff удваивает базовую задержку на каждую попытку, но не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.baseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// dlqEnvelope несёт событие, не доставленное после всех попыток, вместе с причиной.
type dlqEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// deadLetter отправляет событие в DLQ, сохраняя исходный id, ключ и тип события.
func (w *Worker) deadLetter(event domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}

	envelope := dlqEnvelope{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: time.Now().UTC(),
	}
	if !json.Valid(envelope.Payload) {
		envelope.Payload = json.RawMessage("null")
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
