package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// Итоговые статусы строки outbox_messages; воркер публикации видит только pending.
const (
	outboxSent   = "sent"
	outboxFailed = "failed"

	defaultPullLimit    = 100
	defaultCleanupLimit = 500
)

const (
	sqlOutboxInsert = `
INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)`

	sqlOutboxPending = `
SELECT id, aggregate_type, aggregate_id, event_type, payload
FROM outbox_messages
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`

	sqlOutboxStats = `
SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`

	sqlOutboxMark = `
UPDATE outbox_messages
SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
WHERE id = $1`

	sqlOutboxCleanup = `
DELETE FROM outbox_messages
WHERE id IN (
	SELECT id FROM outbox_messages
	WHERE status <> 'pending' AND updated_at <= $1
	ORDER BY updated_at, id
	LIMIT $2
)`
)

// outboxWriter пишет события в outbox_messages той же транзакцией, что и изменение данных.
type outboxWriter struct {
	q querier
}

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if _, err := w.q.ExecContext(ctx, sqlOutboxInsert,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

// OutboxRepository обслуживает воркеры публикации и очистки вне транзакций домена.
// Каждый вызов ограничен opTimeout.
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository использует пул подключений store.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB()}
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, sqlOutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, sqlOutboxStats).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxFailed)
}

// mark фиксирует итог публикации. Неизвестный id даёт ErrOutboxPublish.
func (r *OutboxRepository) mark(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := execAffected(ctx, r.db, sqlOutboxMark, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, domain.ErrOutboxPublish)
	}
	return nil
}

// DeleteProcessed удаляет до limit закрытых сообщений, обновлённых не позже before, от самых старых.
func (r *OutboxRepository) DeleteProcessed(before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := execAffected(ctx, r.db, sqlOutboxCleanup, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	return int(n), nil
}

func execAffected(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ domain.OutboxWriter     = outboxWriter{}
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxCleaner    = (*OutboxRepository)(nil)
)
