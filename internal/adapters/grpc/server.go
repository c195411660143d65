package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eleven-am/conduit/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server exposes the standard gRPC health service for the process.
type Server struct {
	address string
	health  *HealthChecker
	logger  *slog.Logger

	mu       sync.RWMutex
	server   *grpc.Server
	listener net.Listener
	cancel   context.CancelFunc
	started  bool
}

func NewServer(address string, probe Probe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		health:  NewHealthChecker(probe, time.Second, logger),
		logger:  logger.With("component", "grpc-server"),
	}
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start listens and serves in the background. The server stops when ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("grpc server: %w", domain.ErrAlreadyExists)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("failed to listen", "address", s.address, "error", err)
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	s.listener = listener

	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(s.logger)),
		grpc.ChainStreamInterceptor(StreamLoggingInterceptor(s.logger)),
	)
	grpc_health_v1.RegisterHealthServer(s.server, s.health.Server())
	reflection.Register(s.server)

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	go s.health.Watch(watchCtx)

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server failed", "error", err)
		}
	}()

	go func() {
		<-watchCtx.Done()
		_ = s.Stop()
	}()

	s.logger.Info("grpc server started", "address", listener.Addr().String())
	return nil
}

// Stop marks the process NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	s.health.Shutdown()
	s.cancel()
	s.server.GracefulStop()
	s.logger.Info("grpc server stopped")
	return nil
}
