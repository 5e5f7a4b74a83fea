// Команда dlq-reprocess возвращает события из DLQ outbox в основной topic продаж.
// Без -execute ничего не публикует и только перечисляет кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/messaging/kafka"
)

const (
	envKafkaBrokers    = "SALES_KAFKA_BROKERS"
	headerReplayedFrom = "x-replayed-from"
	replayClientID     = kafka.ClientID + "-dlq-reprocess"

	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// eventTypes ограничивает переигрывание перечисленными типами; пустой набор пропускает все.
	eventTypes        map[string]bool
	includeCompaction bool
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// wants решает, переигрывать ли событие данного типа.
// ids.compacted требует явного -include-compaction: переназначения id имеют смысл только в исходном порядке.
func (c config) wants(eventType string) bool {
	if eventType == domain.EventIDsCompacted && !c.includeCompaction {
		return false
	}
	return len(c.eventTypes) == 0 || c.eventTypes[eventType]
}

// replayMessage содержит восстановленное событие, готовое к отправке в target topic.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

func (m replayMessage) eventType() string {
	return m.headers[kafka.HeaderEventType]
}

// dlqRecord повторяет payload DLQ-конверта в том виде, в каком его пишет outbox worker.
type dlqRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayProducer реализуется *kafka.Producer.
type replayProducer interface {
	PublishRaw(topic string, key string, value []byte, headers map[string]string) error
	Close() error
}

// consumerSource сужает sarama.Consumer до partitionConsumerSource.
type consumerSource struct {
	sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	saramaCfg := kafka.NewSaramaConfig(replayClientID)

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create dlq consumer: %w", err)
	}
	if !cfg.execute {
		return client, consumerSource{consumer}, nil, nil
	}

	producer, err := kafka.NewProducerWithConfig(cfg.brokers, saramaCfg)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, consumerSource{consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers, eventTypes string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma separated (default from "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicSalesEvents, "topic to replay into")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed events (dry-run otherwise)")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start each partition from its last <limit> messages")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "give up on a partition after this long without messages")
	fs.StringVar(&eventTypes, "event-types", "", "replay only these event types, comma separated")
	fs.BoolVar(&cfg.includeCompaction, "include-compaction", false, "also replay "+domain.EventIDsCompacted+" events")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	cfg.brokers = kafka.ParseBrokers(brokers)
	for _, eventType := range strings.FieldsFunc(eventTypes, func(r rune) bool { return r == ',' || r == ' ' }) {
		if cfg.eventTypes == nil {
			cfg.eventTypes = map[string]bool{}
		}
		cfg.eventTypes[eventType] = true
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range []interface{ Close() error }{producer, consumer, client} {
			if c != nil {
				_ = c.Close()
			}
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	r, err := newReplayer(cfg, client, consumer, producer)
	if err != nil {
		return err
	}

	r.logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"from_newest":  cfg.fromNewest,
	}).Info("dlq replay started")

	stats, err := r.replay(ctx)
	entry := r.logger.WithFields(log.Fields{
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
		"filtered": stats.filtered,
	})
	if err != nil {
		entry.WithError(err).Error("dlq replay interrupted")
		return err
	}
	entry.Info("dlq replay finished")
	return nil
}

// replayStats считает сообщения DLQ по исходу обработки.
type replayStats struct {
	scanned  int
	replayed int
	skipped  int
	filtered int
}

func (s replayStats) add(o replayStats) replayStats {
	return replayStats{
		scanned:  s.scanned + o.scanned,
		replayed: s.replayed + o.replayed,
		skipped:  s.skipped + o.skipped,
		filtered: s.filtered + o.filtered,
	}
}

type replayer struct {
	cfg      config
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	logger   *log.Entry
}

func newReplayer(cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if client == nil || consumer == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		producer: producer,
		logger:   log.WithFields(log.Fields{"component": "dlq-reprocess", "mode": cfg.mode()}),
	}, nil
}

// replay обходит партиции source topic по возрастанию номера, пока не исчерпан лимит.
func (r *replayer) replay(ctx context.Context) (replayStats, error) {
	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return replayStats{}, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("dlq topic has no partitions")
	}
	slices.Sort(partitions)

	var total replayStats
	for _, partition := range partitions {
		remaining := r.cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total = total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает полуинтервал [start, end) offset'ов партиции, который нужно прочитать.
func (r *replayer) window(partition int32, limit int) (start, end int64, err error) {
	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start = oldest
	if r.cfg.fromNewest {
		start = max(oldest, end-int64(limit))
	}
	return start, end, nil
}

// replayPartition читает не больше limit сообщений партиции. Чтение заканчивается
// на offset, бывшем последним при старте, или после idle-timeout без сообщений.
func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, limit)
	if err != nil || start >= end {
		return stats, err
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d from offset %d: %w", partition, start, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle")
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := extractReplayMessage(msg, r.cfg.sourceTopic, r.cfg.targetTopic)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
	}
	if !ok {
		stats.skipped++
		return nil
	}
	if !r.cfg.wants(replay.eventType()) {
		stats.filtered++
		return nil
	}

	entry = entry.WithFields(log.Fields{"key": replay.key, "event_type": replay.eventType()})
	if r.cfg.execute {
		if err := r.producer.PublishRaw(replay.topic, replay.key, replay.value, replay.headers); err != nil {
			return fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
		}
		entry.Debug("dlq event replayed")
	} else {
		entry.Info("dlq replay candidate")
	}
	stats.replayed++
	return nil
}

// extractReplayMessage восстанавливает исходное событие из DLQ-конверта.
// Сообщения не из outbox пропускаются без ошибки, битый payload outbox даёт ошибку.
func extractReplayMessage(msg *sarama.ConsumerMessage, sourceTopic, targetTopic string) (replayMessage, bool, error) {
	envelope, err := kafka.ParseEnvelope(msg.Value)
	if err != nil || len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return replayMessage{}, false, nil
	}

	var record dlqRecord
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode dlq record %s: %w", envelope.ID, err)
	}
	if len(record.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("dlq record %s has no original payload", envelope.ID)
	}

	original := kafka.Envelope{
		ID:            firstNonEmpty(record.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(record.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(record.EventType, envelope.EventType),
		Payload:       record.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replayed envelope %s: %w", original.ID, err)
	}

	return replayMessage{
		topic: targetTopic,
		key:   kafka.MessageKey(original.AggregateType, original.AggregateID, original.ID),
		value: value,
		headers: map[string]string{
			kafka.HeaderEventType:     original.EventType,
			kafka.HeaderAggregateType: original.AggregateType,
			kafka.HeaderOutboxID:      original.ID,
			headerReplayedFrom:        sourceTopic,
		},
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
