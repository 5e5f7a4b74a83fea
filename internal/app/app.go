// Package app собирает сервис продаж: хранилище, уплотнение id, фасад, outbox, gRPC и HTTP-пробы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/salesmaster/internal/health"
	"github.com/vladislavdragonenkov/salesmaster/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/compaction"
	grpcsvc "github.com/vladislavdragonenkov/salesmaster/internal/service/grpc"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/outbox"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/sales"
	"github.com/vladislavdragonenkov/salesmaster/internal/version"
)

// Run поднимает сервис и блокируется до отмены ctx или ошибки gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.WithFields(version.Get().LogFields()).Info("starting sales service")

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(logger)

	salesMetrics := metrics.NewSalesMetrics()
	salesService, err := newSalesService(cfg, deps, salesMetrics, logger)
	if err != nil {
		return err
	}

	// Без Kafka сервис продолжает работу: ошибка уже залогирована, события уходят в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokerList(), logger.WithField("layer", "kafka"))
	defer closeKafkaProducer(kafkaProducer, logger)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps, kafkaProducer, salesMetrics, logger)
	defer shutdownOutboxWorker(outboxCancel, outboxDone, logger)

	cleanupCancel, cleanupDone := startOutboxCleanup(ctx, cfg, deps, salesMetrics, logger)
	defer shutdownOutboxWorker(cleanupCancel, cleanupDone, logger)

	grpcServer, healthServer := newGRPCServer(salesService, logger)

	healthHandler := healthcheck.NewHandler(version.Get().Version)
	healthHandler.RegisterChecker("store", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outboxRepo, cfg.OutboxMaxPending, cfg.OutboxMaxAge))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer регистрирует SalesService, reflection и grpc.health.v1 с метриками запросов.
func newGRPCServer(svc *sales.Service, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			logger.WithError(err).Warn("failed to register grpc metrics")
		} else if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
			grpcMetrics = existing
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterSalesServer(server, grpcsvc.NewSalesService(svc, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	for _, name := range []string{"", grpcsvc.ServiceName} {
		healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

// newSalesService собирает движок уплотнения, нумератор счетов и фасад.
func newSalesService(cfg Config, deps *runtimeDependencies, m *metrics.SalesMetrics, logger *log.Entry) (*sales.Service, error) {
	engineOpts := []compaction.Option{
		compaction.WithLogger(logger.WithField("layer", "compaction")),
		compaction.WithMetrics(m),
	}
	if cfg.CompactionDeferConstraints {
		engineOpts = append(engineOpts, compaction.WithDeferredConstraints())
	}
	engine := compaction.NewEngine(deps.store, engineOpts...)

	mode, err := sales.ParseNumberingMode(cfg.InvoiceNumbering)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.invoiceLocation()
	if err != nil {
		return nil, err
	}

	return sales.NewService(deps.store, engine,
		sales.WithLogger(logger.WithField("layer", "sales")),
		sales.WithMetrics(m),
		sales.WithInvoiceNumberer(sales.NewInvoiceNumberer(mode, cfg.InvoicePrefix, loc)),
	), nil
}

// startOutboxWorker запускает публикацию outbox: в Kafka, если producer есть, иначе в лог.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	deps *runtimeDependencies,
	producer *kafka.Producer,
	m *metrics.SalesMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	workerLogger := logger.WithField("layer", "outbox")

	var publisher domain.OutboxPublisher
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithMetrics(m),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		opts = append(opts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)))
	} else {
		publisher = outbox.NewLogPublisher(workerLogger)
	}

	worker := outbox.NewWorker(deps.outboxRepo, publisher, opts...)
	return runInBackground(ctx, worker.Run)
}

// startOutboxCleanup запускает удаление обработанных сообщений outbox старше cfg.OutboxRetention.
func startOutboxCleanup(ctx context.Context, cfg Config, deps *runtimeDependencies, m *metrics.SalesMetrics, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if deps.outboxCleaner == nil {
		return nil, nil
	}
	worker := outbox.NewCleanupWorker(deps.outboxCleaner,
		outbox.WithCleanupLogger(logger.WithField("layer", "outbox-cleanup")),
		outbox.WithCleanupMetrics(m),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		outbox.WithCleanupBatchSize(cfg.OutboxBatchSize),
		outbox.WithRetention(cfg.OutboxRetention),
	)
	return runInBackground(ctx, worker.Run)
}

// runInBackground запускает run в отдельной горутине; done закрывается после её выхода.
func runInBackground(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return cancel, done
}

// shutdownOutboxWorker останавливает воркер и ждёт завершения текущего цикла.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("outbox worker did not stop in time")
	}
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
