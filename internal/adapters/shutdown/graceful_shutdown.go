package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Step is one stage of process shutdown.
type Step struct {
	Name string
	Stop func(ctx context.Context) error
}

// GracefulShutdownManager runs shutdown steps in registration order. The
// drain timeout bounds the whole sequence; a failing step does not stop the
// ones after it.
type GracefulShutdownManager struct {
	steps        []Step
	logger       *slog.Logger
	drainTimeout time.Duration
}

func NewGracefulShutdownManager(logger *slog.Logger) *GracefulShutdownManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &GracefulShutdownManager{
		logger:       logger.With("component", "graceful-shutdown"),
		drainTimeout: 30 * time.Second,
	}
}

func (gsm *GracefulShutdownManager) SetDrainTimeout(timeout time.Duration) {
	if timeout > 0 {
		gsm.drainTimeout = timeout
	}
}

func (gsm *GracefulShutdownManager) Add(name string, stop func(ctx context.Context) error) {
	gsm.steps = append(gsm.steps, Step{Name: name, Stop: stop})
}

func (gsm *GracefulShutdownManager) InitiateGracefulShutdown(ctx context.Context) error {
	gsm.logger.Info("initiating graceful shutdown", "steps", len(gsm.steps), "timeout", gsm.drainTimeout)

	drainCtx, cancel := context.WithTimeout(ctx, gsm.drainTimeout)
	defer cancel()

	var errs []error
	for _, step := range gsm.steps {
		start := time.Now()
		if err := step.Stop(drainCtx); err != nil {
			gsm.logger.Error("shutdown step failed", "step", step.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		gsm.logger.Debug("shutdown step complete", "step", step.Name, "duration", time.Since(start))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	gsm.logger.Info("graceful shutdown complete")
	return nil
}
