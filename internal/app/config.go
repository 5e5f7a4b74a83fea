package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/sales"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresMaxConns ограничивает пул подключений; 0 оставляет размер по умолчанию.
	PostgresMaxConns     int
	PostgresConnLifetime time.Duration

	// CompactionDeferConstraints включает режим SET CONSTRAINTS ... DEFERRED
	// вместо снятия и пересоздания внешних ключей.
	CompactionDeferConstraints bool

	InvoiceNumbering string
	InvoicePrefix    string
	InvoiceTimezone  string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	// OutboxRetention задаёт, сколько хранить отправленные и проваленные сообщения outbox.
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	// KafkaBrokers задаёт брокеров через запятую; пустое значение отключает публикацию.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		PostgresMaxConns:      25,
		PostgresConnLifetime:  30 * time.Minute,
		InvoiceNumbering:      string(sales.NumberingCount),
		InvoicePrefix:         domain.DefaultInvoicePrefix,
		InvoiceTimezone:       "UTC",
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		OutboxMaxPending:      1000,
		OutboxMaxAge:          5 * time.Minute,
		OutboxRetention:       24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		KafkaTopic:            kafka.TopicSalesEvents,
		KafkaDLQTopic:         kafka.TopicDeadLetterQueue,
		ShutdownTimeout:       5 * time.Second,
	}
}

// Validate проверяет согласованность настроек до старта.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if _, err := sales.ParseNumberingMode(c.InvoiceNumbering); err != nil {
		errs = append(errs, err)
	}
	if err := domain.ValidateInvoicePrefix(c.InvoicePrefix); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.invoiceLocation(); err != nil {
		errs = append(errs, err)
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 {
		errs = append(errs, errors.New("outbox batch size and attempts must be >= 0"))
	}
	if c.PostgresMaxConns < 0 {
		errs = append(errs, errors.New("postgres max conns must be >= 0"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("outbox retention must be >= 0"))
	}
	return errors.Join(errs...)
}

// KafkaBrokerList разбирает список брокеров.
func (c Config) KafkaBrokerList() []string {
	return kafka.ParseBrokers(c.KafkaBrokers)
}

func (c Config) invoiceLocation() (*time.Location, error) {
	if strings.TrimSpace(c.InvoiceTimezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.InvoiceTimezone)
	if err != nil {
		return nil, fmt.Errorf("invoice timezone: %w", err)
	}
	return loc, nil
}
