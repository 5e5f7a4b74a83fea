package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/messaging/kafka"
)

// initKafkaProducer подключается к брокерам из конфигурации.
// Пустой список брокеров отключает Kafka: результат nil, nil.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		logger.Info("kafka brokers not configured, outbox events go to the log")
		return nil, nil
	}

	entry := logger.WithField("brokers", brokers)
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		entry.WithError(err).Warn("kafka unavailable, outbox events go to the log")
		return nil, err
	}
	entry.Info("kafka producer connected")
	return producer, nil
}

// closeKafkaProducer допускает nil producer.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer close failed")
		return
	}
	logger.Info("kafka producer closed")
}
