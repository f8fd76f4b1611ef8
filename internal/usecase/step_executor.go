package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/step"
)

// StepExecutor runs a single attempt of a step under a timeout and turns
// panics into error results.
type StepExecutor struct {
	logger     *slog.Logger
	timeout    time.Duration
	timeNowUTC func() time.Time
}

func NewStepExecutor(logger *slog.Logger, timeout time.Duration) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{
		logger:  logger,
		timeout: timeout,
		timeNowUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (e *StepExecutor) Execute(ctx context.Context, d step.Descriptor, env step.Env) action.Result {
	start := e.timeNowUTC()

	attemptCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	result := func() (res action.Result) {
		defer func() {
			if recovered := recover(); recovered != nil {
				res = action.Failed(d.Name, fault.Internal(fmt.Sprintf("step panicked: %v", recovered)))
			}
		}()
		return d.Handler.Run(attemptCtx, env)
	}()

	// The attempt deadline is a step timeout, not a run cancellation.
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !result.OK() {
		result = action.TimedOut(d.Name, fmt.Sprintf("step exceeded %s", e.timeout))
	}
	if result.Target == "" {
		result.Target = d.Name
	}

	duration := e.timeNowUTC().Sub(start)
	fields := []any{
		"run_id", env.RunID,
		"step", d.Name,
		"ordinal", d.Ordinal,
		"attempt", env.Attempt,
		"outcome", string(result.Outcome),
		"duration_ms", duration.Milliseconds(),
	}
	if result.OK() {
		e.logger.Info("step attempt succeeded", fields...)
		return result
	}
	fields = append(fields, "target", result.Target, "detail", result.Detail, "network", result.Network)
	e.logger.Warn("step attempt failed", fields...)
	return result
}
