// Package runner executes sessions under the session timeout, either in
// this process or in a child tester process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/session"
)

const (
	KindInProcess  = config.RunnerInProcess
	KindSubprocess = config.RunnerSubprocess
)

// Runner executes one session. A session that exceeds its budget returns
// an error with code SESSION_TIMEOUT after its browser has been terminated.
type Runner interface {
	Run(ctx context.Context, cfg domain.TestConfiguration, opts ...session.RunOption) (*domain.SessionResult, error)
	Kind() string
}

// limiter bounds concurrent sessions and applies the session timeout.
type limiter struct {
	kind    string
	timeout time.Duration
	sem     *semaphore.Weighted
	metrics *observability.Metrics
	logger  *zap.Logger
}

func newLimiter(kind string, timeout time.Duration, maxConcurrent int, metrics *observability.Metrics, logger *zap.Logger) limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return limiter{
		kind:    kind,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		metrics: metrics,
		logger:  logger,
	}
}

// do runs fn with a session context. fn must not return before the
// resources it started are gone.
func (l limiter) do(ctx context.Context, cfg domain.TestConfiguration, fn func(ctx context.Context) (*domain.SessionResult, error)) (*domain.SessionResult, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a session slot: %w", err)
	}
	defer l.sem.Release(1)

	sctx := ctx
	cancel := func() {}
	if l.timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	defer cancel()

	l.metrics.SessionStarted()
	defer l.metrics.SessionEnded()

	start := time.Now()
	result, err := fn(sctx)
	elapsed := time.Since(start)

	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = domain.ErrSessionTimeout(l.timeout)
	}

	outcome := outcomeOf(err)
	l.metrics.RecordSession(l.kind, outcome, elapsed)
	l.logger.Info("session completed",
		zap.String("runner", l.kind),
		zap.String("url", cfg.URL),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
	)
	return result, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsCode(err, domain.ErrCodeSessionTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		var raw *domain.RawOutputError
		if errors.As(err, &raw) {
			return "unparsable"
		}
		return "failed"
	}
}

// New builds the runner selected by cfg.Runner.
func New(cfg config.TesterConfig, orch *session.Orchestrator, metrics *observability.Metrics, logger *zap.Logger) (Runner, error) {
	switch cfg.Runner {
	case "", KindInProcess:
		if orch == nil {
			return nil, errors.New("in-process runner needs an orchestrator")
		}
		return NewInProcess(orch, cfg.SessionTimeout, cfg.MaxConcurrent, metrics, logger), nil
	case KindSubprocess:
		return NewSubprocess(SubprocessOptions{
			Binary:        cfg.Binary,
			Timeout:       cfg.SessionTimeout,
			MaxConcurrent: cfg.MaxConcurrent,
		}, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
}
