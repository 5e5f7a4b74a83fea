package outbox

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 24 * time.Hour
)

// CleanupWorker удаляет sent и failed сообщения, которые не менялись дольше retention.
// Pending-сообщения остаются в outbox, пока их не обработает Worker.
type CleanupWorker struct {
	cleaner domain.OutboxCleaner
	logger  *log.Entry
	metrics *metrics.SalesMetrics
	now     func() time.Time

	interval  time.Duration
	batchSize int
	retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithCleanupMetrics(m *metrics.SalesMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

func WithCleanupInterval(d time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithCleanupBatchSize ограничивает число строк, удаляемых одним запросом.
func WithCleanupBatchSize(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetention задаёт срок хранения обработанных сообщений; 0 удаляет их на ближайшем проходе.
func WithRetention(d time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if d >= 0 {
			w.retention = d
		}
	}
}

// WithCleanupClock подменяет часы, от которых отсчитывается retention.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewCleanupWorker(cleaner domain.OutboxCleaner, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		cleaner:   cleaner,
		logger:    log.WithField("component", "outbox-cleanup"),
		now:       func() time.Time { return time.Now().UTC() },
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run чистит outbox сразу после старта и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.cleaner == nil {
		w.logger.Warn("outbox cleanup disabled: no cleaner configured")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.cleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.DeleteProcessed(ctx, cutoff)
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordOutboxCleanup(deleted, err)

	entry := w.logger.WithFields(log.Fields{"deleted": deleted, "cutoff": cutoff})
	switch {
	case err != nil:
		entry.WithError(err).Warn("outbox cleanup failed")
	case deleted > 0:
		entry.Info("outbox cleanup removed processed messages")
	}
}

// DeleteProcessed удаляет порциями по batchSize все обработанные сообщения с updated_at <= before.
// Нулевой before означает текущий момент. При ошибке возвращает число уже удалённых строк.
func (w *CleanupWorker) DeleteProcessed(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := w.cleaner.DeleteProcessed(before, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			return total, nil
		}
	}
}
