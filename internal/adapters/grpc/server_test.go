package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type flagProbe struct{ healthy atomic.Bool }

func (p *flagProbe) Healthy() bool { return p.healthy.Load() }

func TestHealthChecker_FollowsProbe(t *testing.T) {
	probe := &flagProbe{}
	checker := NewHealthChecker(probe, 5*time.Millisecond, nil)
	ctx := context.Background()

	resp, err := checker.Server().Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go checker.Watch(watchCtx)

	probe.healthy.Store(true)
	assert.Eventually(t, func() bool {
		resp, err := checker.Server().Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		return err == nil && resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	checker.Shutdown()
	resp, err = checker.Server().Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	time.Sleep(20 * time.Millisecond)
	resp, err = checker.Server().Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after shutdown = %v, want NOT_SERVING", resp.Status)
	}
}

func TestServer_ServesHealth(t *testing.T) {
	probe := &flagProbe{}
	probe.healthy.Store(true)

	server := NewServer("127.0.0.1:0", probe, nil)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	assert.Error(t, server.Start(context.Background()), "second start is rejected")

	conn, err := grpc.NewClient(server.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	_, err = grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
}

func TestServer_StopsWithContext(t *testing.T) {
	server := NewServer("127.0.0.1:0", &flagProbe{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool {
		server.mu.RLock()
		defer server.mu.RUnlock()
		return !server.started
	}, time.Second, 5*time.Millisecond)
}
