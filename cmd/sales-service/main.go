// Команда sales-service запускает gRPC-сервис продаж.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/salesmaster/internal/app"
)

const (
	envPrefix     = "SALES"
	envConfigFile = "SALES_CONFIG"

	keyLogLevel  = "log_level"
	keyLogFormat = "log_format"
)

// newViper собирает источники настроек: значения по умолчанию, файл из SALES_CONFIG и переменные SALES_*.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, app.DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper, cfg app.Config) {
	v.SetDefault("grpc_addr", cfg.GRPCAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("storage_driver", cfg.StorageDriver)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", cfg.PostgresAutoMigrate)
	v.SetDefault("postgres_max_conns", cfg.PostgresMaxConns)
	v.SetDefault("postgres_conn_lifetime", cfg.PostgresConnLifetime)
	v.SetDefault("compaction_defer_constraints", cfg.CompactionDeferConstraints)
	v.SetDefault("invoice_numbering", cfg.InvoiceNumbering)
	v.SetDefault("invoice_prefix", cfg.InvoicePrefix)
	v.SetDefault("invoice_timezone", cfg.InvoiceTimezone)
	v.SetDefault("outbox_poll_interval", cfg.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", cfg.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", cfg.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_delay", cfg.OutboxRetryDelay)
	v.SetDefault("outbox_max_pending", cfg.OutboxMaxPending)
	v.SetDefault("outbox_max_age", cfg.OutboxMaxAge)
	v.SetDefault("outbox_retention", cfg.OutboxRetention)
	v.SetDefault("outbox_cleanup_interval", cfg.OutboxCleanupInterval)
	v.SetDefault("kafka_brokers", cfg.KafkaBrokers)
	v.SetDefault("kafka_topic", cfg.KafkaTopic)
	v.SetDefault("kafka_dlq_topic", cfg.KafkaDLQTopic)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
}

// loadConfig читает app.Config и проверяет его.
func loadConfig(v *viper.Viper) (app.Config, error) {
	cfg := app.Config{
		GRPCAddr:                   strings.TrimSpace(v.GetString("grpc_addr")),
		MetricsAddr:                strings.TrimSpace(v.GetString("metrics_addr")),
		StorageDriver:              strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		PostgresDSN:                strings.TrimSpace(v.GetString("postgres_dsn")),
		PostgresAutoMigrate:        v.GetBool("postgres_auto_migrate"),
		PostgresMaxConns:           v.GetInt("postgres_max_conns"),
		PostgresConnLifetime:       v.GetDuration("postgres_conn_lifetime"),
		CompactionDeferConstraints: v.GetBool("compaction_defer_constraints"),
		InvoiceNumbering:           strings.ToLower(strings.TrimSpace(v.GetString("invoice_numbering"))),
		InvoicePrefix:              strings.TrimSpace(v.GetString("invoice_prefix")),
		InvoiceTimezone:            strings.TrimSpace(v.GetString("invoice_timezone")),
		OutboxPollInterval:         v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:            v.GetInt("outbox_batch_size"),
		OutboxMaxAttempts:          v.GetInt("outbox_max_attempts"),
		OutboxRetryDelay:           v.GetDuration("outbox_retry_delay"),
		OutboxMaxPending:           v.GetInt("outbox_max_pending"),
		OutboxMaxAge:               v.GetDuration("outbox_max_age"),
		OutboxRetention:            v.GetDuration("outbox_retention"),
		OutboxCleanupInterval:      v.GetDuration("outbox_cleanup_interval"),
		KafkaBrokers:               strings.TrimSpace(v.GetString("kafka_brokers")),
		KafkaTopic:                 strings.TrimSpace(v.GetString("kafka_topic")),
		KafkaDLQTopic:              strings.TrimSpace(v.GetString("kafka_dlq_topic")),
		ShutdownTimeout:            v.GetDuration("shutdown_timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(v *viper.Viper) error {
	level, err := log.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch strings.ToLower(v.GetString(keyLogFormat)) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", v.GetString(keyLogFormat))
	}
	return nil
}

func main() {
	v, err := newViper()
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	if err := setupLogger(v); err != nil {
		log.WithError(err).Fatal("некорректные настройки логирования")
	}
	cfg, err := loadConfig(v)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"numbering":      cfg.InvoiceNumbering,
	}).Info("запускаем SalesService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("SalesService остановлен")
}
