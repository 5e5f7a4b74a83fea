package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
	"github.com/vladislavdragonenkov/salesmaster/internal/storage/memory"
)

func enqueue(t *testing.T, repo *memory.OutboxRepository, msgs ...domain.OutboxMessage) []domain.OutboxMessage {
	t.Helper()
	stored := make([]domain.OutboxMessage, 0, len(msgs))
	for _, msg := range msgs {
		m, err := repo.Enqueue(context.Background(), msg)
		require.NoError(t, err)
		stored = append(stored, m)
	}
	return stored
}

func customerCreated(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateCustomer,
		AggregateID:   id,
		EventType:     domain.EventCustomerCreated,
		Payload:       []byte(`{"id":` + id + `}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stored := enqueue(t, repo, customerCreated("1"), domain.OutboxMessage{
		AggregateType: domain.AggregateKeyspace,
		AggregateID:   "customer",
		EventType:     domain.EventIDsCompacted,
		Payload:       []byte(`{"kind":"customer","count":1,"remap":{"3":1}}`),
	})
	publisher := &stubPublisher{}
	m := metrics.NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3), WithMetrics(m))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 2, publisher.calls())
	assert.Equal(t, []string{stored[0].ID, stored[1].ID}, publisher.publishedIDs(), "events are published in enqueue order")
	assert.Empty(t, repo.AllPending())

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stored := enqueue(t, repo, domain.OutboxMessage{
		AggregateType: domain.AggregateInvoice,
		AggregateID:   "7",
		EventType:     domain.EventInvoiceIssued,
		Payload:       []byte(`{"number":"FAC-251123-0001"}`),
	})
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}
	m := metrics.NewSalesMetricsWithRegisterer(prometheus.NewRegistry())

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithMetrics(m),
	)
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending(), "failed message leaves the pending backlog")
	require.Equal(t, 1, dlqPublisher.calls())

	dlq := dlqPublisher.last()
	assert.Equal(t, stored[0].ID, dlq.ID)
	assert.Equal(t, domain.EventInvoiceIssued, dlq.EventType)

	var envelope dlqEnvelope
	require.NoError(t, json.Unmarshal(dlq.Payload, &envelope))
	assert.Equal(t, "publish invoice.issued after 3 attempts: broker unavailable", envelope.PublishError)
	assert.JSONEq(t, `{"number":"FAC-251123-0001"}`, string(envelope.Payload))
	assert.False(t, envelope.DLQPublishedAt.IsZero())
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, customerCreated("3"))
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewSalesMetricsWithRegisterer(reg)
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, customerCreated("1"))
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("transient"), nil}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(2), WithMetrics(m))
	worker.ProcessOnce(context.Background())

	families, err := reg.Gather()
	require.NoError(t, err)

	attempts := map[string]float64{}
	var pendingSeen bool
	for _, family := range families {
		switch family.GetName() {
		case "sales_outbox_publish_attempts_total":
			for _, metric := range family.GetMetric() {
				attempts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
			}
		case "sales_outbox_pending_records":
			pendingSeen = true
			assert.Zero(t, family.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.Equal(t, map[string]float64{publishRetryError: 1, publishSent: 1}, attempts)
	assert.True(t, pendingSeen)
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))

	capped := NewWorker(memory.NewOutboxRepository(), &stubPublisher{}, WithRetryBaseDelay(time.Second))
	assert.Equal(t, maxRetryDelay, capped.retryBackoff(10))
	assert.Equal(t, maxRetryDelay, capped.retryBackoff(500))

	disabled := NewWorker(memory.NewOutboxRepository(), &stubPublisher{}, WithRetryBaseDelay(0))
	assert.Zero(t, disabled.retryBackoff(5))
}

func TestWorker_ProcessOnce_ReportsBatchAndContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stored := enqueue(t, repo, customerCreated("1"), domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "4",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte("not json"),
	}, customerCreated("2"))
	publisher := &stubPublisher{sequenceErrors: []error{nil, errors.New("too large"), nil}}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithDLQPublisher(dlq), WithMaxAttempts(1), WithRetryBaseDelay(0))
	result := worker.ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Sent: 2, Failed: 1}, result)
	assert.Equal(t, []string{stored[0].ID, stored[2].ID}, publisher.publishedIDs())

	var envelope dlqEnvelope
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &envelope))
	assert.Equal(t, stored[1].ID, envelope.OutboxID)
	assert.JSONEq(t, "null", string(envelope.Payload))
}

func TestWorker_ProcessOnce_CancelledDuringBackoffKeepsPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, customerCreated("9"))
	dlq := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	publisher := &stubPublisher{err: errors.New("broker down"), onPublish: cancel}

	worker := NewWorker(repo, publisher, WithDLQPublisher(dlq), WithMaxAttempts(5), WithRetryBaseDelay(time.Minute))
	result := worker.ProcessOnce(ctx)

	assert.Equal(t, BatchResult{Failed: 1}, result)
	assert.Equal(t, 1, publisher.calls())
	assert.Zero(t, dlq.calls())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
	onPublish      func()
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.onPublish != nil {
		s.onPublish()
	}
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) publishedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.published))
	for _, event := range s.published {
		ids = append(ids, event.ID)
	}
	return ids
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func TestLogPublisher_DrainsBacklog(t *testing.T) {
	t.Parallel()

	logger := log.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, customerCreated("5"))

	worker := NewWorker(repo, NewLogPublisher(logger.WithField("component", "test")), WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	assert.Empty(t, repo.AllPending())
	assert.Contains(t, buf.String(), domain.EventCustomerCreated)
}
