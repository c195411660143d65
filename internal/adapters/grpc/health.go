package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall "".
const ServiceName = "conduit.Engine"

// Probe reports whether the process can accept runs.
type Probe interface {
	Healthy() bool
}

// HealthChecker mirrors a Probe into a standard gRPC health server.
type HealthChecker struct {
	server   *health.Server
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewHealthChecker(probe Probe, interval time.Duration, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}

	h := &HealthChecker{
		server:   health.NewServer(),
		probe:    probe,
		interval: interval,
		logger:   logger.With("component", "health-checker"),
		last:     grpc_health_v1.HealthCheckResponse_UNKNOWN,
	}
	h.refresh()
	return h
}

func (h *HealthChecker) Server() grpc_health_v1.HealthServer {
	return h.server
}

// Watch polls the probe until ctx is done. Status changes are pushed to
// watching clients by the health server.
func (h *HealthChecker) Watch(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refresh()
		}
	}
}

func (h *HealthChecker) refresh() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if h.probe != nil && h.probe.Healthy() {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.set(status)
}

func (h *HealthChecker) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if status == h.last {
		return
	}
	h.last = status
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	h.logger.Debug("service status updated", "status", status.String())
}

// Shutdown reports NOT_SERVING permanently; later probe results are ignored.
func (h *HealthChecker) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.server.Shutdown()
	h.last = grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
