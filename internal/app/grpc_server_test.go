package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcsvc "github.com/vladislavdragonenkov/salesmaster/internal/service/grpc"
)

func TestNewGRPCServer_RegistersServices(t *testing.T) {
	logger := log.WithField("test", "grpc-server")

	server, healthServer := newGRPCServer(nil, logger)
	defer server.Stop()

	services := server.GetServiceInfo()
	assert.Contains(t, services, grpcsvc.ServiceName)
	assert.Contains(t, services, healthpb.Health_ServiceDesc.ServiceName)

	resp, err := healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	// Повторная сборка переиспользует уже зарегистрированные метрики gRPC.
	again, _ := newGRPCServer(nil, logger)
	again.Stop()
}

func TestRunInBackground(t *testing.T) {
	started := make(chan struct{})
	cancel, done := runInBackground(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	<-started
	cancel()
	<-done
}
