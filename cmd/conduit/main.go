package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/grpc"
	"github.com/eleven-am/conduit/internal/adapters/shutdown"
	"github.com/eleven-am/conduit/internal/api"
	"github.com/eleven-am/conduit/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conduit:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CONDUIT_CONFIG"), "path to a YAML config file")
	definitions := flag.String("definitions", "", "workflow definitions directory (overrides config)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "time allowed for active runs to finish")
	flag.Parse()

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *definitions != "" {
		config.Definitions.Dir = *definitions
	}

	logger := core.NewLogger(config.Logging, os.Stderr)
	slog.SetDefault(logger)
	config.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := core.New(ctx, config)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		_ = manager.Stop(context.Background())
		return err
	}

	gsm := shutdown.NewGracefulShutdownManager(logger)
	gsm.SetDrainTimeout(*shutdownTimeout)

	if config.GRPC.Enabled {
		grpcServer := grpc.NewServer(config.GRPC.Address, manager, logger)
		if err := grpcServer.Start(ctx); err != nil {
			_ = manager.Stop(context.Background())
			return err
		}
		gsm.Add("grpc", func(context.Context) error { return grpcServer.Stop() })
	}

	if config.HTTP.Enabled {
		httpServer := api.NewServer(config.HTTP, manager, logger)
		if err := httpServer.Start(); err != nil {
			_ = manager.Stop(context.Background())
			return err
		}
		gsm.Add("http", httpServer.Shutdown)
	}

	gsm.Add("manager", manager.Stop)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return gsm.InitiateGracefulShutdown(context.Background())
}
