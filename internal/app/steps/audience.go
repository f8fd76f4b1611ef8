package steps

import (
	"context"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

// Audience fills the ad group audience. Every field is optional.
type Audience struct {
	targets Targets
}

func (s Audience) Run(ctx context.Context, env step.Env) action.Result {
	ui, t, cfg := env.UI, s.targets, env.Config
	return step.Chain(ctx, env,
		step.Optional(TargetAudienceName, fill(ui, t.Query(TargetAudienceName), cfg.String(settings.KeyAudience))),
		step.Optional(TargetGender, fill(ui, t.Query(TargetGender), cfg.String(settings.KeyGender))),
		step.Optional(TargetAgeMin, fill(ui, t.Query(TargetAgeMin), cfg.String(settings.KeyAgeMin))),
		step.Optional(TargetAgeMax, fill(ui, t.Query(TargetAgeMax), cfg.String(settings.KeyAgeMax))),
	)
}
