package steps

import (
	"context"
	"strings"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/element"
	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/step"
)

// maxCreativeEntries caps how many headlines or descriptions are applied.
const maxCreativeEntries = 5

func notConfigured(target string) action.Result {
	return action.Result{Outcome: action.OutcomeSuccess, Target: target, Detail: "not configured"}
}

func click(ui *action.Primitives, q element.Query) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		return ui.Click(ctx, q)
	}
}

// fill assigns value, or does nothing when the configuration has no value
// for the field.
func fill(ui *action.Primitives, q element.Query, value string) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		if value == "" {
			return notConfigured(q.String())
		}
		return ui.FillAndCommit(ctx, q, value)
	}
}

// fillAndPick types value into an autocomplete input and picks the first
// suggestion that shows up.
func fillAndPick(ui *action.Primitives, input, suggestion element.Query, value string) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		if value == "" {
			return notConfigured(input.String())
		}
		if res := ui.FillAndCommit(ctx, input, value); !res.OK() {
			return res
		}
		node, res := ui.WaitForAppear(ctx, suggestion, shortWait(ui))
		if res.Absent() {
			return action.Succeeded(input.String())
		}
		if !res.OK() {
			return res
		}
		return ui.ClickNode(ctx, suggestion.String(), node)
	}
}

// fillSeries writes values into the visible inputs matching css, in document
// order, stopping at whichever runs out first.
func fillSeries(ui *action.Primitives, name, css string, values []string) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		if len(values) == 0 {
			return notConfigured(name)
		}
		if len(values) > maxCreativeEntries {
			values = values[:maxCreativeEntries]
		}
		nodes, res := ui.FindAll(ctx, css)
		if !res.OK() {
			res.Target = name
			return res
		}
		for i, value := range values {
			if i >= len(nodes) {
				break
			}
			if res := ui.FillNode(ctx, name, nodes[i], value); !res.OK() {
				return res
			}
		}
		return action.Succeeded(name)
	}
}

// check clicks a checkbox unless it is already checked.
func check(ui *action.Primitives, q element.Query) func(context.Context) action.Result {
	return func(ctx context.Context) action.Result {
		node, res := ui.WaitForAppear(ctx, q, shortWait(ui))
		if res.Outcome == action.OutcomeTimeout {
			return action.Missing(q.String(), res.Detail)
		}
		if !res.OK() {
			return res
		}
		if isChecked(node) {
			return action.Succeeded(q.String())
		}
		return ui.ClickNode(ctx, q.String(), node)
	}
}

// isChecked covers native checkboxes and ARIA ones such as
// material-checkbox.
func isChecked(node element.Node) bool {
	if _, ok := node.Attr("checked"); ok {
		return true
	}
	v, _ := node.Attr("aria-checked")
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// dismissDialogs closes visible guidance popups, looking for close buttons
// inside each open dialog first and across the page when none is open. It
// never fails the step except on cancellation.
func dismissDialogs(ui *action.Primitives, t Targets, env step.Env) step.Op {
	closeCSS, dialogCSS := t.Series(SeriesCloseButtons), t.Series(SeriesDialogs)
	return step.Optional("dismiss_dialogs", func(ctx context.Context) action.Result {
		if closeCSS == "" {
			return action.Succeeded("dismiss_dialogs")
		}
		scopes := []*action.Primitives{ui}
		if dialogCSS != "" {
			dialogs, res := ui.FindAll(ctx, dialogCSS)
			if action.IsCanceled(res) {
				return res
			}
			if len(dialogs) > 0 {
				scopes = scopes[:0]
				for _, d := range dialogs {
					scopes = append(scopes, ui.Within(d))
				}
			}
		}
		for _, scoped := range scopes {
			nodes, res := scoped.FindAll(ctx, closeCSS)
			if action.IsCanceled(res) {
				return res
			}
			for _, n := range nodes {
				res := scoped.ClickNode(ctx, "dismiss_dialogs", n)
				if action.IsCanceled(res) {
					return res
				}
				if !res.OK() {
					env.Log().Debug("dialog dismissal ignored", "detail", res.Detail)
				}
			}
		}
		return action.Succeeded("dismiss_dialogs")
	})
}

// requireSignedIn pauses the run when the page offers a sign-in control
// instead of the account UI. Signing in needs a human.
func requireSignedIn(ui *action.Primitives, t Targets) step.Op {
	q := t.Query(TargetSignIn)
	return step.Required(TargetSignIn, func(ctx context.Context) action.Result {
		_, res := ui.Find(ctx, q)
		switch {
		case res.OK():
			return action.Blocked(q.String(), fault.SubKindAuthenticationRequired,
				"account is signed out")
		case res.Absent():
			return action.Succeeded(q.String())
		default:
			return res
		}
	})
}

// shortWait bounds lookups for elements that may legitimately never show.
func shortWait(ui *action.Primitives) time.Duration {
	d := ui.Timing().Timeout / 4
	if d <= 0 || d > 3*time.Second {
		d = 3 * time.Second
	}
	return d
}
