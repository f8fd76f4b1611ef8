package steps

import (
	"context"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

// Creative fills one ad: domain, up to five headlines and descriptions, a
// business name drawn from the configured pool, call to action and URL.
type Creative struct {
	targets Targets
}

func (s Creative) Run(ctx context.Context, env step.Env) action.Result {
	ui, t, cfg := env.UI, s.targets, env.Config
	return step.Chain(ctx, env,
		step.Optional(TargetAddAd, click(ui, t.Query(TargetAddAd))),
		dismissDialogs(ui, t, env),
		step.Optional(TargetDomain, fill(ui, t.Query(TargetDomain), cfg.String(settings.KeyDomain))),
		step.Required(SeriesHeadlines, fillSeries(ui, SeriesHeadlines, t.Series(SeriesHeadlines), cfg.List(settings.KeyHeadlines))),
		step.Optional(SeriesDescriptions, fillSeries(ui, SeriesDescriptions, t.Series(SeriesDescriptions), cfg.List(settings.KeyDescriptions))),
		step.Optional(TargetBusinessName, fill(ui, t.Query(TargetBusinessName), pickBusinessName(env))),
		step.Optional(TargetCTA, fill(ui, t.Query(TargetCTA), cfg.String(settings.KeyCTA))),
		step.Required(TargetFinalURL, fill(ui, t.Query(TargetFinalURL), cfg.String(settings.KeyFinalURL))),
	)
}

// pickBusinessName draws one name from the pool using the run's random
// source; the resolver itself stays deterministic.
func pickBusinessName(env step.Env) string {
	names := env.Config.List(settings.KeyBusinessNames)
	if len(names) == 0 {
		return ""
	}
	return names[env.Pick(len(names))]
}
