package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/eleven-am/conduit/internal/domain"
)

var errAttemptTimeout = errors.New("attempt timeout")

// Operation is one attempt of a fallible unit of work. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

type Outcome struct {
	Attempts int
	Waited   time.Duration
}

type Call struct {
	Policy         domain.RetryPolicy
	AttemptTimeout time.Duration
	OnRetry        func(attempt int, delay time.Duration, err error)
}

type Executor struct {
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

type Option func(*Executor)

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

func WithRandom(fn func() float64) Option {
	return func(e *Executor) {
		e.random = fn
	}
}

func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		logger: logger.With("component", "retry"),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Do(ctx context.Context, policy domain.RetryPolicy, op Operation) (Outcome, error) {
	return e.Run(ctx, Call{Policy: policy}, op)
}

// Run attempts op until it succeeds, fails with a non-retryable error or
// the policy runs out of attempts. Cancellation of ctx ends the loop with
// ErrCancelled (or ErrRunTimeout when ctx hit its deadline).
func (e *Executor) Run(ctx context.Context, call Call, op Operation) (Outcome, error) {
	var outcome Outcome

	maxAttempts := call.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return outcome, contextError(ctx)
		}

		outcome.Attempts = attempt
		err := e.attempt(ctx, call.AttemptTimeout, attempt, op)
		if err == nil {
			return outcome, nil
		}

		if ctx.Err() != nil {
			return outcome, contextError(ctx)
		}

		if domain.IsCancelled(err) || errors.Is(err, domain.ErrRunTimeout) {
			return outcome, err
		}

		if !domain.IsRetryable(err) {
			e.logger.Debug("attempt failed with permanent error", "attempt", attempt, "error", err.Error())
			return outcome, err
		}

		if attempt >= maxAttempts {
			e.logger.Debug("retry attempts exhausted", "attempts", attempt, "error", err.Error())
			return outcome, err
		}

		delay := e.backoff(call.Policy, attempt)
		e.logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err.Error(),
		)

		if call.OnRetry != nil {
			call.OnRetry(attempt, delay, err)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return outcome, contextError(ctx)
		}
		outcome.Waited += delay
	}
}

func (e *Executor) backoff(policy domain.RetryPolicy, attempt int) time.Duration {
	delay := policy.Delay(attempt)
	if policy.Jitter <= 0 || delay <= 0 {
		return delay
	}

	factor := 1 - policy.Jitter + 2*policy.Jitter*e.random()
	return time.Duration(float64(delay) * factor)
}

func (e *Executor) attempt(ctx context.Context, timeout time.Duration, attempt int, op Operation) error {
	if timeout <= 0 {
		return guard(ctx, attempt, op)
	}

	attemptCtx, cancel := context.WithTimeoutCause(ctx, timeout, errAttemptTimeout)
	defer cancel()

	err := guard(attemptCtx, attempt, op)
	if ctx.Err() != nil {
		return contextError(ctx)
	}

	if attemptCtx.Err() != nil && errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return &domain.NodeError{
			Kind:      domain.ErrorKindTimeout,
			Message:   fmt.Sprintf("attempt %d exceeded %s", attempt, timeout),
			Retryable: true,
			Err:       domain.ErrTimeout,
		}
	}
	return err
}

// guard runs op on its own goroutine so an operation that ignores ctx
// cannot hold the caller past cancellation. Panics become internal errors.
func guard(ctx context.Context, attempt int, op Operation) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &domain.NodeError{
					Kind:    domain.ErrorKindInternal,
					Message: fmt.Sprintf("panic: %v", r),
				}
			}
		}()
		done <- op(ctx, attempt)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func contextError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return domain.ErrRunTimeout
	}
	if errors.Is(cause, domain.ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %v", domain.ErrCancelled, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
