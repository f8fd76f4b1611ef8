package steps

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/domain/step"
)

var trackingTemplate = template.Must(template.New("tracking").Parse(`// Tracking script for {{.AccountName}}
// Generated {{.GeneratedAt}}
var ACCOUNT_NAME = {{printf "%q" .AccountName}};
var CREATIVE_APPROACH = {{printf "%q" .CreativeApproach}};
var CAMPAIGN_NAME = {{printf "%q" .CampaignName}};
var CAMPAIGN_ID = {{printf "%q" .CampaignID}};

function main() {
  trackConversions();
}

function trackConversions() {
  var campaigns = AdsApp.campaigns()
    .withCondition("Name = '" + CAMPAIGN_NAME + "'")
    .get();
  while (campaigns.hasNext()) {
    var stats = campaigns.next().getStatsFor("TODAY");
    Logger.log(ACCOUNT_NAME + " [" + CREATIVE_APPROACH + "] " + CAMPAIGN_ID +
      " conversions=" + stats.getConversions());
  }
}
`))

type trackingData struct {
	AccountName      string
	CreativeApproach string
	CampaignName     string
	CampaignID       string
	GeneratedAt      string
}

// RenderTrackingScript fills the tracking script template. A campaign
// without a configured id gets one derived from the run.
func RenderTrackingScript(cfg settings.Configuration, runID string, now time.Time) (string, error) {
	data := trackingData{
		AccountName:      cfg.StringOr(settings.KeyAccountName, "Default Account"),
		CreativeApproach: cfg.StringOr(settings.KeyCreativeApproach, "Default"),
		CampaignName:     cfg.String(settings.KeyCampaignName),
		CampaignID:       cfg.StringOr(settings.KeyCampaignID, "auto-"+strings.ToLower(runID)),
		GeneratedAt:      now.UTC().Format(time.RFC3339),
	}
	var b strings.Builder
	if err := trackingTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render tracking script: %w", err)
	}
	return b.String(), nil
}

// Tracking installs the tracking script under Tools > Scripts, saves and
// runs it. The script authorization dialog is accepted when it offers a
// continue control and otherwise pauses the run for a human.
type Tracking struct {
	targets Targets
}

func (s Tracking) Run(ctx context.Context, env step.Env) action.Result {
	ui, t, cfg := env.UI, s.targets, env.Config
	script, err := RenderTrackingScript(cfg, env.RunID, env.Clock())
	if err != nil {
		return action.Failed(TargetCodeEditor, fault.Internal(err.Error()))
	}
	ops := []step.Op{
		requireSignedIn(ui, t),
		step.Required(TargetTools, click(ui, t.Query(TargetTools))),
		step.Required(TargetScripts, click(ui, t.Query(TargetScripts))),
		step.Required(TargetNewScript, click(ui, t.Query(TargetNewScript))),
		step.Required(TargetCodeEditor, fill(ui, t.Query(TargetCodeEditor), script)),
		step.Required(TargetSave, click(ui, t.Query(TargetSave))),
		step.Required(TargetRunScript, click(ui, t.Query(TargetRunScript))),
		step.Required(TargetAuthDialog, authorizeScript(ui, t)),
	}
	if cfg.Bool(settings.KeyAutoRunTracking) {
		ops = append(ops,
			step.Optional(TargetScheduleTab, click(ui, t.Query(TargetScheduleTab))),
			step.Optional(TargetHourly, click(ui, t.Query(TargetHourly))),
		)
	}
	return step.Chain(ctx, env, ops...)
}

// authorizeScript ticks the permissions listed in the script authorization
// dialog and continues. A dialog without a continue control, such as an
// account chooser, is left for a human.
func authorizeScript(ui *action.Primitives, t Targets) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		q := t.Query(TargetAuthDialog)
		dialog, res := ui.WaitForAppear(ctx, q, shortWait(ui))
		if res.Absent() {
			return action.Succeeded(q.String())
		}
		if !res.OK() {
			return res
		}
		scoped := ui.Within(dialog)
		if css := t.Series(SeriesPermissions); css != "" {
			boxes, res := scoped.FindAll(ctx, css)
			if action.IsCanceled(res) {
				return res
			}
			for _, box := range boxes {
				if isChecked(box) {
					continue
				}
				if res := scoped.ClickNode(ctx, TargetAuthDialog, box); !res.OK() {
					return res
				}
			}
		}
		allow := t.Query(TargetAuthAllow)
		node, res := scoped.Find(ctx, allow)
		if res.Absent() {
			return action.Blocked(q.String(), fault.SubKindAuthenticationRequired,
				"script authorization dialog requires a human")
		}
		if !res.OK() {
			return res
		}
		return scoped.ClickNode(ctx, allow.String(), node)
	}
}
