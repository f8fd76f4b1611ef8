package steps

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roushou/adpilot/internal/domain/element"
)

// Single-node targets.
const (
	TargetSignIn = "sign_in"

	TargetGoals           = "goals"
	TargetNewConversion   = "new_conversion"
	TargetOffline         = "offline"
	TargetSkip            = "skip"
	TargetConversionValue = "conversion_value"
	TargetDone            = "done"

	TargetCampaigns    = "campaigns"
	TargetNewCampaign  = "new_campaign"
	TargetDemandGen    = "demand_gen"
	TargetLead         = "lead"
	TargetCampaignName = "campaign_name"
	TargetDailyBudget  = "daily_budget"
	TargetTargetCPA    = "target_cpa"
	TargetLocation     = "location"
	TargetLanguage     = "language"
	TargetSuggestion   = "suggestion"
	TargetStartDate    = "start_date"
	TargetEndDate      = "end_date"
	TargetMobile       = "mobile"

	TargetAudienceName = "audience_name"
	TargetGender       = "gender"
	TargetAgeMin       = "age_min"
	TargetAgeMax       = "age_max"

	TargetAddAd        = "add_ad"
	TargetDomain       = "domain"
	TargetBusinessName = "business_name"
	TargetCTA          = "cta"
	TargetFinalURL     = "final_url"

	TargetPublish = "publish"

	TargetTools       = "tools"
	TargetScripts     = "scripts"
	TargetNewScript   = "new_script"
	TargetCodeEditor  = "code_editor"
	TargetSave        = "save"
	TargetRunScript   = "run_script"
	TargetAuthDialog  = "auth_dialog"
	TargetAuthAllow   = "auth_allow"
	TargetScheduleTab = "schedule_tab"
	TargetHourly      = "hourly"
)

// Series targets are plain CSS selector groups whose every visible match is
// filled in document order.
const (
	SeriesHeadlines    = "headlines"
	SeriesDescriptions = "descriptions"
	SeriesCloseButtons = "close_buttons"
	SeriesDialogs      = "dialogs"
	SeriesPermissions  = "permissions"
)

// Targets maps logical UI targets to element queries. The zero value is not
// usable; start from DefaultTargets.
type Targets struct {
	queries map[string]element.Query
	series  map[string]string
}

func DefaultTargets() Targets {
	t := Targets{queries: map[string]element.Query{}, series: map[string]string{}}

	t.queries[TargetSignIn] = element.Target(TargetSignIn,
		element.ByLabel("Sign in"),
		element.ByText("Sign in"),
		element.ByText("Войти"),
	)

	t.legacy(TargetGoals, `a[href*="goals"], [role="tab"][aria-label*="Goals"], nav a:has-text("Goals")`)
	t.queries[TargetNewConversion] = element.Target(TargetNewConversion,
		element.ByLabel("New conversion"),
		element.ByText("New conversion action"),
		element.ByText("New conversion"),
		element.ByContains("New conversion", element.InteractiveSelector),
	)
	t.legacy(TargetOffline, `[role="option"]:has-text("Offline"), label:has-text("Offline"), div:has-text("Offline")`)
	t.queries[TargetSkip] = element.Button("Skip")
	t.legacy(TargetConversionValue, `input[type="number"][aria-label*="value"], input[type="number"][placeholder*="value"], input[aria-label*="Value"], input[type="number"]`)
	t.queries[TargetDone] = element.Target(TargetDone, element.ByLabel("Done"), element.ByText("Done"), element.ByText("Save"))

	t.legacy(TargetCampaigns, `a[href*="campaigns"], [role="tab"][aria-label*="Campaigns"], nav a:has-text("Campaigns")`)
	t.queries[TargetNewCampaign] = element.Target(TargetNewCampaign,
		element.ByLabel("New campaign"),
		element.ByText("New campaign"),
		element.ByText("+ New campaign"),
		element.ByText("Create campaign"),
		element.ByContains("New campaign", element.InteractiveSelector),
	)
	t.legacy(TargetDemandGen, `[role="option"]:has-text("Demand Gen"), label:has-text("Demand Gen"), div:has-text("Demand Gen")`)
	t.legacy(TargetLead, `[role="option"]:has-text("Lead"), label:has-text("Lead")`)
	t.legacy(TargetCampaignName, `input[aria-label*="Campaign name"], input[placeholder*="Campaign"]`)
	t.legacy(TargetDailyBudget, `input[aria-label*="Daily budget"], input[type="number"][aria-label*="budget"], input[placeholder*="budget"], input[aria-label*="budget"]`)
	t.legacy(TargetTargetCPA, `input[aria-label*="CPA"], input[placeholder*="CPA"], input[aria-label*="cost per"]`)
	t.legacy(TargetLocation, `input[aria-label*="Location"], input[aria-label*="Country"], input[placeholder*="location"], input[placeholder*="country"]`)
	t.legacy(TargetLanguage, `input[aria-label*="Language"], input[placeholder*="language"]`)
	t.legacy(TargetSuggestion, `[role="listbox"] [role="option"], [role="option"]`)
	t.legacy(TargetStartDate, `input[aria-label*="Start date"], input[placeholder*="start"], input[aria-label*="Start"]`)
	t.legacy(TargetEndDate, `input[aria-label*="End date"], input[placeholder*="end"], input[aria-label*="End"]`)
	t.legacy(TargetMobile, `input[type="checkbox"][aria-label*="Mobile"], [role="checkbox"][aria-label*="Mobile"], input[type="checkbox"][aria-label*="phones"], input[value*="mobile"]`)

	t.legacy(TargetAudienceName, `input[aria-label*="Audience"], input[placeholder*="audience"]`)
	t.legacy(TargetGender, `select[aria-label*="Gender"], select[aria-label*="gender"]`)
	t.legacy(TargetAgeMin, `input[aria-label*="Age from"], input[aria-label*="Minimum age"]`)
	t.legacy(TargetAgeMax, `input[aria-label*="Age to"], input[aria-label*="Maximum age"]`)

	t.queries[TargetAddAd] = element.Target(TargetAddAd, element.ByLabel("Add ad"), element.ByText("Add ad"), element.ByText("New ad"))
	t.legacy(TargetDomain, `input[aria-label*="domain"], input[placeholder*="domain"], input[aria-label*="Display URL"]`)
	t.legacy(TargetBusinessName, `input[aria-label*="Business name"], input[placeholder*="business"]`)
	t.legacy(TargetCTA, `input[aria-label*="Call to action"], select[aria-label*="action"], [role="combobox"][aria-label*="CTA"]`)
	t.legacy(TargetFinalURL, `input[aria-label*="Final URL"], input[placeholder*="Final URL"], input[type="url"]`)

	t.queries[TargetPublish] = element.Target(TargetPublish,
		element.ByLabel("Publish"),
		element.ByText("Publish campaign"),
		element.ByText("Publish"),
		element.ByText("Launch"),
		element.ByText("Save"),
	)

	t.legacy(TargetTools, `a[href*="tools"], [role="tab"][aria-label*="Tools"], a[aria-label*="Tools"], nav a:has-text("Tools")`)
	t.legacy(TargetScripts, `a:has-text("Scripts"), [role="menuitem"]:has-text("Scripts")`)
	t.queries[TargetNewScript] = element.Target(TargetNewScript,
		element.ByLabel("New script"),
		element.ByText("New script"),
		element.ByContains("New script", element.InteractiveSelector),
	)
	t.legacy(TargetCodeEditor, `textarea[role="textbox"], [role="textbox"] textarea, textarea.code-editor, .code-editor textarea, pre[contenteditable]`)
	t.queries[TargetSave] = element.Target(TargetSave,
		element.ByAttribute("", "aria-label", element.MatchExact, "Save"),
		element.ByText("Save"),
	)
	t.queries[TargetRunScript] = element.Target(TargetRunScript,
		element.ByAttribute("", "aria-label", element.MatchExact, "Run"),
		element.ByText("Run"),
		element.ByText("Execute"),
	)
	t.legacy(TargetAuthDialog, `[role="dialog"]:has-text("Google"), .authorization-dialog`)
	t.queries[TargetAuthAllow] = element.Target(TargetAuthAllow,
		element.ByText("Continue"),
		element.ByText("Allow"),
		element.ByText("Продолжить"),
	)
	t.legacy(TargetScheduleTab, `[role="tab"]:has-text("Schedule"), a:has-text("Frequency")`)
	t.legacy(TargetHourly, `input[value="hourly"], [role="option"]:has-text("Every hour"), label:has-text("Every hour")`)

	t.series[SeriesHeadlines] = `input[aria-label*="Headline"], textarea[placeholder*="headline"], input[placeholder*="headline"]`
	t.series[SeriesDescriptions] = `textarea[aria-label*="Description"], input[placeholder*="description"], textarea[placeholder*="description"]`
	t.series[SeriesCloseButtons] = `[aria-label="Close"], [aria-label*="close"], [aria-label="Закрыть"], button[aria-label*="Dismiss"], button[class*="close"], material-close-icon`
	t.series[SeriesDialogs] = `[role="dialog"], [role="alertdialog"], material-dialog`
	t.series[SeriesPermissions] = `input[type="checkbox"], [role="checkbox"]`
	return t
}

func (t Targets) legacy(name, selector string) {
	q, err := element.ParseSelector(name, selector)
	if err != nil {
		panic(fmt.Sprintf("steps: default target %s: %v", name, err))
	}
	t.queries[name] = q
}

// Query returns the query registered under name. Unknown names yield a
// query that never validates, so a typo surfaces as a step error.
func (t Targets) Query(name string) element.Query {
	if q, ok := t.queries[name]; ok {
		return q
	}
	return element.Query{Name: name}
}

func (t Targets) Series(name string) string {
	return t.series[name]
}

func (t Targets) Names() []string {
	out := make([]string, 0, len(t.queries))
	for name := range t.queries {
		out = append(out, name)
	}
	return out
}

// With returns a copy of t with name bound to q.
func (t Targets) With(name string, q element.Query) Targets {
	cp := t.clone()
	q.Name = name
	cp.queries[name] = q
	return cp
}

func (t Targets) clone() Targets {
	cp := Targets{
		queries: make(map[string]element.Query, len(t.queries)),
		series:  make(map[string]string, len(t.series)),
	}
	for k, v := range t.queries {
		cp.queries[k] = v
	}
	for k, v := range t.series {
		cp.series[k] = v
	}
	return cp
}

type targetsFile struct {
	Targets map[string]queryOverride `yaml:"targets"`
	Series  map[string]string        `yaml:"series"`
}

// queryOverride accepts either a selector string (":has-text" allowed) or
// a full query with explicit strategies.
type queryOverride struct {
	query element.Query
}

func (o *queryOverride) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var selector string
		if err := value.Decode(&selector); err != nil {
			return err
		}
		q, err := element.ParseSelector("", selector)
		if err != nil {
			return err
		}
		o.query = q
		return nil
	}
	var q element.Query
	if err := value.Decode(&q); err != nil {
		return err
	}
	o.query = q
	return nil
}

// LoadTargets returns DefaultTargets with the overrides from a YAML file
// applied. An empty path returns the defaults.
func LoadTargets(path string) (Targets, error) {
	t := DefaultTargets()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Targets{}, fmt.Errorf("read targets file: %w", err)
	}
	return t.Apply(data)
}

// Apply overlays YAML overrides on a copy of t.
func (t Targets) Apply(data []byte) (Targets, error) {
	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Targets{}, fmt.Errorf("decode targets: %w", err)
	}
	out := t.clone()
	for name, o := range file.Targets {
		q := o.query
		q.Name = name
		if err := q.Validate(); err != nil {
			return Targets{}, fmt.Errorf("target %s: %w", name, err)
		}
		out.queries[name] = q
	}
	for name, css := range file.Series {
		css = strings.TrimSpace(css)
		if css == "" {
			return Targets{}, fmt.Errorf("series %s: empty selector", name)
		}
		if strings.Contains(css, ":has-text(") {
			return Targets{}, fmt.Errorf("series %s: :has-text is not supported for series", name)
		}
		out.series[name] = css
	}
	return out, nil
}
