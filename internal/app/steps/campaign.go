package steps

import (
	"context"
	"strings"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

// Campaign creates a Demand Gen campaign with a lead objective and fills
// its budget, bidding, targeting and schedule.
type Campaign struct {
	targets Targets
}

func (s Campaign) Run(ctx context.Context, env step.Env) action.Result {
	ui, t, cfg := env.UI, s.targets, env.Config
	ops := []step.Op{
		requireSignedIn(ui, t),
		step.Optional(TargetCampaigns, click(ui, t.Query(TargetCampaigns))),
		dismissDialogs(ui, t, env),
		step.Required(TargetNewCampaign, click(ui, t.Query(TargetNewCampaign))),
		dismissDialogs(ui, t, env),
		step.Optional(TargetDemandGen, click(ui, t.Query(TargetDemandGen))),
		step.Optional(TargetLead, click(ui, t.Query(TargetLead))),
		step.Optional(TargetCampaignName, fill(ui, t.Query(TargetCampaignName), cfg.String(settings.KeyCampaignName))),
		step.Required(TargetDailyBudget, fill(ui, t.Query(TargetDailyBudget), cfg.String(settings.KeyBudget))),
		step.Required(TargetTargetCPA, fill(ui, t.Query(TargetTargetCPA), cfg.String(settings.KeyTargetCPA))),
		step.Required(TargetLocation, fillAndPick(ui, t.Query(TargetLocation), t.Query(TargetSuggestion), cfg.String(settings.KeyLocation))),
		step.Optional(TargetLanguage, fillAndPick(ui, t.Query(TargetLanguage), t.Query(TargetSuggestion), cfg.String(settings.KeyLanguage))),
		step.Optional(TargetStartDate, fill(ui, t.Query(TargetStartDate), cfg.String(settings.KeyStartDate))),
		step.Optional(TargetEndDate, fill(ui, t.Query(TargetEndDate), cfg.String(settings.KeyEndDate))),
	}
	if device := strings.ToLower(cfg.String(settings.KeyDeviceType)); device == "" || device == "mobile" {
		ops = append(ops, step.Optional(TargetMobile, check(ui, t.Query(TargetMobile))))
	}
	ops = append(ops, dismissDialogs(ui, t, env))
	return step.Chain(ctx, env, ops...)
}
