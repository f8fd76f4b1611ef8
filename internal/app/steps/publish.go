package steps

import (
	"context"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/step"
)

type Publish struct {
	targets Targets
}

func (s Publish) Run(ctx context.Context, env step.Env) action.Result {
	ui, t := env.UI, s.targets
	return step.Chain(ctx, env,
		dismissDialogs(ui, t, env),
		step.Required(TargetPublish, click(ui, t.Query(TargetPublish))),
	)
}
