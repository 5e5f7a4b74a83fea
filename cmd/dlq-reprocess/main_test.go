package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesmaster/internal/messaging/kafka"
)

const (
	testSourceTopic = "salesmaster.events.dlq"
	testTargetTopic = "salesmaster.events"
)

func noEnv(string) string { return "" }

// dlqValue собирает сообщение в том виде, в каком его пишет outbox worker в DLQ.
func dlqValue(t *testing.T, outboxID, aggregateType, aggregateID, eventType string, payload string) []byte {
	t.Helper()
	record, err := json.Marshal(map[string]any{
		"outbox_id":        outboxID,
		"aggregate_type":   aggregateType,
		"aggregate_id":     aggregateID,
		"event_type":       eventType,
		"payload":          json.RawMessage(payload),
		"publish_error":    "broker unavailable",
		"dlq_published_at": time.Now().UTC(),
	})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            outboxID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       record,
		PublishedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return value
}

func invoiceIssued(t *testing.T, invoiceID string) []byte {
	return dlqValue(t, "outbox-"+invoiceID, "invoice", invoiceID, "invoice.issued", `{"number":"FAC-251123-000`+invoiceID+`"}`)
}

func TestExtractReplayMessage_OutboxDLQ(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: dlqValue(t, "outbox-1", "customer", "3", "customer.updated", `{"id":3,"name":"Carla"}`)}

	got, ok, err := extractReplayMessage(msg, testSourceTopic, testTargetTopic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testTargetTopic, got.topic)
	assert.Equal(t, "customer:3", got.key)
	assert.Equal(t, "customer.updated", got.headers[kafka.HeaderEventType])
	assert.Equal(t, "outbox-1", got.headers[kafka.HeaderOutboxID])
	assert.Equal(t, testSourceTopic, got.headers[headerReplayedFrom])

	envelope, err := kafka.ParseEnvelope(got.value)
	require.NoError(t, err)
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.JSONEq(t, `{"id":3,"name":"Carla"}`, string(envelope.Payload), "original payload is restored without the dlq wrapper")
}

func TestExtractReplayMessage_KeyspaceEventWithoutAggregateID(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: dlqValue(t, "outbox-9", "keyspace", "", "ids.compacted", `{"kind":"product","count":2}`)}

	got, ok, err := extractReplayMessage(msg, testSourceTopic, testTargetTopic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "outbox-9", got.key)
}

func TestExtractReplayMessage_MissingOriginalPayload(t *testing.T) {
	record, err := json.Marshal(map[string]any{"outbox_id": "outbox-1", "event_type": "order.created"})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{ID: "outbox-1", EventType: "order.created", Payload: record})
	require.NoError(t, err)

	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, testSourceTopic, testTargetTopic)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestExtractReplayMessage_UnknownPayloadSkipped(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, `not json`, `{"event_type":"order.created","payload":null}`} {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, testSourceTopic, testTargetTopic)
		require.NoError(t, err, value)
		assert.False(t, ok, value)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "x", firstNonEmpty("", "  ", "x", "y"))
	assert.Empty(t, firstNonEmpty("", " "))
}

func TestReadConfig_FromFlags(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, noEnv)
	require.NoError(t, err)
	assert.Len(t, cfg.brokers, 2)
	assert.Equal(t, testSourceTopic, cfg.sourceTopic)
	assert.Equal(t, testTargetTopic, cfg.targetTopic)
	assert.Equal(t, 10, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)
	assert.Equal(t, 3*time.Second, cfg.idleTimeout)
}

func TestReadConfig_BrokersFromEnvironment(t *testing.T) {
	cfg, err := readConfig(nil, func(key string) string {
		if key == envKafkaBrokers {
			return "k1:9092"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092"}, cfg.brokers)
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"-brokers="}, want: "kafka brokers are required"},
		{args: []string{"-brokers=b:9092", "-source-topic="}, want: "source-topic is required"},
		{args: []string{"-brokers=b:9092", "-target-topic="}, want: "target-topic is required"},
		{args: []string{"-brokers=b:9092", "-target-topic=" + testSourceTopic}, want: "must differ"},
		{args: []string{"-brokers=b:9092", "-limit=0"}, want: "limit must be > 0"},
		{args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
	}
	for _, tt := range tests {
		_, err := readConfig(tt.args, noEnv)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("args %v: expected %q, got %v", tt.args, tt.want, err)
		}
	}
}

func TestConfig_Wants(t *testing.T) {
	all := config{}
	assert.True(t, all.wants("invoice.issued"))
	assert.False(t, all.wants("ids.compacted"), "compaction events need an explicit opt-in")

	withCompaction := config{includeCompaction: true}
	assert.True(t, withCompaction.wants("ids.compacted"))

	onlyInvoices := config{eventTypes: map[string]bool{"invoice.issued": true}}
	assert.True(t, onlyInvoices.wants("invoice.issued"))
	assert.False(t, onlyInvoices.wants("order.created"))
}

func TestReadConfig_EventTypes(t *testing.T) {
	cfg, err := readConfig([]string{"-brokers=b:9092", "-event-types=invoice.issued, order.created", "-include-compaction"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"invoice.issued": true, "order.created": true}, cfg.eventTypes)
	assert.True(t, cfg.includeCompaction)
	assert.Equal(t, "dry-run", cfg.mode())

	cfg, err = readConfig([]string{"-brokers=b:9092"}, noEnv)
	require.NoError(t, err)
	assert.Nil(t, cfg.eventTypes)
}

// scanPartition строит replayer поверх заглушек и читает одну партицию.
func scanPartition(t *testing.T, ctx context.Context, cfg config, dlq *fakeDLQ, producer replayProducer, limit int) (replayStats, error) {
	t.Helper()
	r, err := newReplayer(cfg, dlq, dlq, producer)
	require.NoError(t, err)
	return r.replayPartition(ctx, 0, limit)
}

func replayConfig(execute bool) config {
	return config{
		sourceTopic: testSourceTopic,
		targetTopic: testTargetTopic,
		limit:       100,
		execute:     execute,
		idleTimeout: 20 * time.Millisecond,
	}
}

func TestReplayPartition_DryRun(t *testing.T) {
	dlq := newFakeDLQ()
	dlq.add(0, invoiceIssued(t, "7"))

	stats, err := scanPartition(t, context.Background(), replayConfig(false), dlq, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{scanned: 1, replayed: 1}, stats)
	require.Len(t, dlq.consumed, 1)
	assert.Zero(t, dlq.consumed[0].offset)
}

func TestReplayPartition_ExecuteFromNewest(t *testing.T) {
	dlq := newFakeDLQ()
	dlq.add(0, invoiceIssued(t, "4"), invoiceIssued(t, "5"), invoiceIssued(t, "6"), invoiceIssued(t, "7"), invoiceIssued(t, "8"))
	producer := &stubReplayProducer{}
	cfg := replayConfig(true)
	cfg.fromNewest = true

	stats, err := scanPartition(t, context.Background(), cfg, dlq, producer, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.replayed)
	assert.Equal(t, []string{"invoice:7", "invoice:8"}, producer.keys)
	assert.EqualValues(t, 3, dlq.consumed[0].offset)
	assert.Equal(t, testTargetTopic, producer.lastTopic)
	assert.Equal(t, testSourceTopic, producer.lastHeaders[headerReplayedFrom])
}

func TestReplayPartition_FiltersEventTypes(t *testing.T) {
	dlq := newFakeDLQ()
	dlq.add(0,
		invoiceIssued(t, "1"),
		dlqValue(t, "outbox-2", "order", "2", "order.created", `{"id":2}`),
		dlqValue(t, "outbox-3", "keyspace", "", "ids.compacted", `{"kind":"customer","count":4}`),
	)
	producer := &stubReplayProducer{}
	cfg := replayConfig(true)
	cfg.eventTypes = map[string]bool{"invoice.issued": true, "ids.compacted": true}

	stats, err := scanPartition(t, context.Background(), cfg, dlq, producer, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{scanned: 3, replayed: 1, filtered: 2}, stats)
	assert.Equal(t, []string{"invoice:1"}, producer.keys)
}

func TestReplayPartition_ErrorBranches(t *testing.T) {
	cfg := replayConfig(true)

	t.Run("offset", func(t *testing.T) {
		dlq := newFakeDLQ()
		dlq.add(0, invoiceIssued(t, "7"))
		dlq.offsetErr = errors.New("offset")
		_, err := scanPartition(t, context.Background(), cfg, dlq, &stubReplayProducer{}, 1)
		require.Error(t, err)
	})

	t.Run("consume", func(t *testing.T) {
		dlq := newFakeDLQ()
		dlq.add(0, invoiceIssued(t, "7"))
		dlq.consumeErr = errors.New("consume")
		_, err := scanPartition(t, context.Background(), cfg, dlq, &stubReplayProducer{}, 1)
		require.Error(t, err)
	})

	t.Run("consumer error", func(t *testing.T) {
		dlq := newFakeDLQ()
		stream := dlq.stream(0, 2)
		stream.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
		_, err := scanPartition(t, context.Background(), cfg, dlq, &stubReplayProducer{}, 1)
		require.ErrorContains(t, err, "consumer boom")
		assert.True(t, stream.closed)
	})

	t.Run("undecodable record is skipped", func(t *testing.T) {
		badRecord, err := json.Marshal(kafka.Envelope{ID: "x", EventType: "order.created", Payload: json.RawMessage(`"not-an-object"`)})
		require.NoError(t, err)
		dlq := newFakeDLQ()
		dlq.add(0, badRecord)
		stats, err := scanPartition(t, context.Background(), cfg, dlq, &stubReplayProducer{}, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.skipped)
	})

	t.Run("send", func(t *testing.T) {
		dlq := newFakeDLQ()
		dlq.add(0, invoiceIssued(t, "7"))
		_, err := scanPartition(t, context.Background(), cfg, dlq, &stubReplayProducer{sendErr: errors.New("send fail")}, 1)
		require.ErrorContains(t, err, "send fail")
	})
}

func TestReplayPartition_IdleTimeoutAndContext(t *testing.T) {
	cfg := replayConfig(false)
	cfg.idleTimeout = 10 * time.Millisecond

	dlq := newFakeDLQ()
	dlq.stream(0, 2)
	stats, err := scanPartition(t, context.Background(), cfg, dlq, nil, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.scanned)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dlq = newFakeDLQ()
	dlq.stream(0, 2)
	_, err = scanPartition(t, ctx, cfg, dlq, nil, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplayPartition_EmptyRange(t *testing.T) {
	dlq := newFakeDLQ()
	dlq.oldest[0] = 4

	stats, err := scanPartition(t, context.Background(), replayConfig(false), dlq, nil, 5)
	require.NoError(t, err)
	assert.Zero(t, stats.scanned)
	assert.Empty(t, dlq.consumed)
}

func TestRunReplay(t *testing.T) {
	cfg := replayConfig(false)
	cfg.limit = 1

	require.Error(t, runReplay(context.Background(), cfg, nil, nil, nil))

	dlq := newFakeDLQ()
	dlq.add(2, invoiceIssued(t, "2"))
	dlq.add(0, invoiceIssued(t, "1"))

	require.NoError(t, runReplay(context.Background(), cfg, dlq, dlq, nil))
	require.Len(t, dlq.consumed, 1, "limit=1 stops after the first partition")
	assert.Zero(t, dlq.consumed[0].partition, "partitions are scanned in order")

	executeCfg := cfg
	executeCfg.execute = true
	require.Error(t, runReplay(context.Background(), executeCfg, dlq, dlq, nil), "execute mode needs a producer")

	empty := newFakeDLQ()
	require.NoError(t, runReplay(context.Background(), cfg, empty, empty, nil))

	broken := newFakeDLQ()
	broken.partitionsErr = errors.New("metadata")
	require.Error(t, runReplay(context.Background(), cfg, broken, broken, nil))
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	cfg := replayConfig(true)
	cfg.limit = 1

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), cfg), "deps failed")

	dlq := newFakeDLQ()
	dlq.add(0, invoiceIssued(t, "7"))
	producer := &stubReplayProducer{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return dlq, dlq, producer, nil
	}
	require.NoError(t, run(context.Background(), cfg))
	assert.Equal(t, []string{"invoice:7"}, producer.keys)
	assert.Equal(t, 2, dlq.closes, "client and consumer are both closed")
	assert.True(t, producer.closed)
}

func TestFail_ExitsNonZero(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_FAIL") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFail_ExitsNonZero")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_FAIL=1")
	var exitErr *exec.ExitError
	require.ErrorAs(t, cmd.Run(), &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
}

type consumeCall struct {
	partition int32
	offset    int64
}

// fakeDLQ изображает DLQ-топик: сообщения по партициям с offset'ами от oldest.
// Реализует и offsetClient, и partitionConsumerSource.
type fakeDLQ struct {
	messages map[int32][]*sarama.ConsumerMessage
	oldest   map[int32]int64
	streams  map[int32]*fakeStream
	newest   map[int32]int64

	partitionsErr error
	offsetErr     error
	consumeErr    error

	consumed []consumeCall
	closes   int
}

func newFakeDLQ() *fakeDLQ {
	return &fakeDLQ{
		messages: map[int32][]*sarama.ConsumerMessage{},
		oldest:   map[int32]int64{},
		streams:  map[int32]*fakeStream{},
		newest:   map[int32]int64{},
	}
}

// add дописывает значения в конец партиции.
func (f *fakeDLQ) add(partition int32, values ...[]byte) {
	next := f.oldest[partition] + int64(len(f.messages[partition]))
	for i, value := range values {
		f.messages[partition] = append(f.messages[partition], &sarama.ConsumerMessage{
			Topic:     testSourceTopic,
			Partition: partition,
			Offset:    next + int64(i),
			Value:     value,
		})
	}
}

// stream подменяет партицию открытым потоком, в котором по offset'ам лежит pending сообщений.
func (f *fakeDLQ) stream(partition int32, pending int64) *fakeStream {
	s := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	f.streams[partition] = s
	f.newest[partition] = f.oldest[partition] + pending
	return s
}

func (f *fakeDLQ) Partitions(string) ([]int32, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	seen := map[int32]bool{}
	for p := range f.messages {
		seen[p] = true
	}
	for p := range f.streams {
		seen[p] = true
	}
	for p := range f.oldest {
		seen[p] = true
	}
	return slices.Collect(maps.Keys(seen)), nil
}

func (f *fakeDLQ) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if f.offsetErr != nil {
		return 0, f.offsetErr
	}
	switch marker {
	case sarama.OffsetOldest:
		return f.oldest[partition], nil
	case sarama.OffsetNewest:
		if newest, ok := f.newest[partition]; ok {
			return newest, nil
		}
		return f.oldest[partition] + int64(len(f.messages[partition])), nil
	}
	return 0, fmt.Errorf("unexpected offset marker %d", marker)
}

func (f *fakeDLQ) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	f.consumed = append(f.consumed, consumeCall{partition: partition, offset: offset})
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if s, ok := f.streams[partition]; ok {
		return s, nil
	}

	s := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(f.messages[partition])),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range f.messages[partition] {
		if msg.Offset >= offset {
			s.messages <- msg
		}
	}
	close(s.messages)
	return s, nil
}

func (f *fakeDLQ) Close() error {
	f.closes++
	return nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errors }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type stubReplayProducer struct {
	sendErr     error
	keys        []string
	closed      bool
	lastTopic   string
	lastHeaders map[string]string
}

func (s *stubReplayProducer) PublishRaw(topic string, key string, _ []byte, headers map[string]string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.keys = append(s.keys, key)
	s.lastTopic, s.lastHeaders = topic, headers
	return nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
