package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

func StreamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, "stream", start, err)
		return err
	}
}

func logCall(logger *slog.Logger, method, kind string, start time.Time, err error) {
	attrs := []any{
		"method", method,
		"type", kind,
		"duration", time.Since(start),
		"code", status.Code(err).String(),
	}
	if err != nil {
		logger.Warn("grpc call failed", append(attrs, "error", err)...)
		return
	}
	logger.Debug("grpc call completed", attrs...)
}
