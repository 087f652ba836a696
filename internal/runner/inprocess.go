package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/session"
)

// InProcess runs sessions on a browser launched by this process.
type InProcess struct {
	orch *session.Orchestrator
	limiter
}

// NewInProcess creates an in-process runner.
func NewInProcess(orch *session.Orchestrator, timeout time.Duration, maxConcurrent int, metrics *observability.Metrics, logger *zap.Logger) *InProcess {
	return &InProcess{
		orch:    orch,
		limiter: newLimiter(KindInProcess, timeout, maxConcurrent, metrics, logger),
	}
}

func (r *InProcess) Kind() string { return KindInProcess }

// Run executes cfg. The orchestrator closes its browser when the session
// context expires and returns only afterwards.
func (r *InProcess) Run(ctx context.Context, cfg domain.TestConfiguration, opts ...session.RunOption) (*domain.SessionResult, error) {
	return r.do(ctx, cfg, func(ctx context.Context) (*domain.SessionResult, error) {
		return r.orch.Run(ctx, cfg, opts...)
	})
}
