package step

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/settings"
)

// Env is everything a step may use during one attempt. Config is a snapshot
// shared read-only with every other step of the run.
type Env struct {
	RunID   string
	Step    string
	Ordinal int
	Attempt int
	Config  settings.Configuration
	UI      *action.Primitives
	Logger  *slog.Logger
	Rand    *rand.Rand
	Now     func() time.Time
}

func (e Env) Clock() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Pick returns a random index below n using the run's source, or 0 when
// there is no source.
func (e Env) Pick(n int) int {
	if n <= 1 || e.Rand == nil {
		return 0
	}
	return e.Rand.IntN(n)
}

func (e Env) Log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

type Handler interface {
	Run(ctx context.Context, env Env) action.Result
}

type HandlerFunc func(ctx context.Context, env Env) action.Result

func (f HandlerFunc) Run(ctx context.Context, env Env) action.Result {
	return f(ctx, env)
}

// Recovery is a corrective action tried once after a step exhausts its
// attempts.
type Recovery func(ctx context.Context, env Env) error

// ReloadPage reloads the host page.
func ReloadPage(ctx context.Context, env Env) error {
	return env.UI.Host().Reload(ctx)
}

type Descriptor struct {
	Name     string
	Title    string
	Ordinal  int
	Handler  Handler
	Recovery Recovery
}
