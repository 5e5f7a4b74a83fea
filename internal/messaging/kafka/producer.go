package kafka

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ClientID, под которым сервис представляется брокерам.
const ClientID = "salesmaster"

// NewSaramaConfig собирает конфигурацию клиента: идемпотентный sync producer
// с подтверждением от всех реплик и consumer, отдающий ошибки в канал.
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1 // обязательно для идемпотентного producer
	cfg.Consumer.Return.Errors = true
	return cfg
}

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Producer публикует события продаж в Kafka через sync producer.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам с конфигурацией по умолчанию.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithConfig(brokers, NewSaramaConfig(ClientID))
}

// NewProducerWithConfig подключается к брокерам с заданной конфигурацией sarama.
func NewProducerWithConfig(brokers []string, cfg *sarama.Config) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %v: %w", brokers, err)
	}
	return NewProducerFromSync(sync, nil), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer в тестах.
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger}
}

// PublishEvent сериализует событие в JSON и отправляет его без заголовков.
func (p *Producer) PublishEvent(topic string, key string, event any) error {
	return p.PublishEventWithHeaders(topic, key, event, nil)
}

// PublishEventWithHeaders сериализует событие в JSON и отправляет его с заголовками.
func (p *Producer) PublishEventWithHeaders(topic string, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	return p.PublishRaw(topic, key, value, headers)
}

// PublishRaw отправляет уже сериализованное значение. Заголовки пишутся в порядке имён.
func (p *Producer) PublishRaw(topic string, key string, value []byte, headers map[string]string) error {
	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		out = append(out, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return out
}
