package steps

import (
	"context"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

// Conversion creates an offline conversion action from the Goals page.
type Conversion struct {
	targets Targets
}

func (s Conversion) Run(ctx context.Context, env step.Env) action.Result {
	ui, t := env.UI, s.targets
	value := env.Config.String(settings.KeyConversionValue)
	if value == "" {
		value = env.Config.String(settings.KeyTargetCPA)
	}
	return step.Chain(ctx, env,
		requireSignedIn(ui, t),
		step.Optional(TargetGoals, click(ui, t.Query(TargetGoals))),
		dismissDialogs(ui, t, env),
		step.Required(TargetNewConversion, click(ui, t.Query(TargetNewConversion))),
		dismissDialogs(ui, t, env),
		step.Optional(TargetOffline, click(ui, t.Query(TargetOffline))),
		step.Optional(TargetSkip, click(ui, t.Query(TargetSkip))),
		step.Optional(TargetConversionValue, fill(ui, t.Query(TargetConversionValue), value)),
		step.Optional(TargetDone, click(ui, t.Query(TargetDone))),
		dismissDialogs(ui, t, env),
	)
}
