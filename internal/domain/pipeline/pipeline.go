package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/roushou/adpilot/internal/domain/step"
)

// Step names of the full catalog, in execution order.
const (
	StepConversion = "conversion"
	StepCampaign   = "campaign"
	StepAudience   = "audience"
	StepCreative   = "creative"
	StepPublish    = "publish"
	StepTracking   = "tracking"
)

type Variant string

const (
	VariantFull         Variant = "full_pipeline"
	VariantCampaignOnly Variant = "campaign_only"
	VariantTrackingOnly Variant = "tracking_only"
)

var variantAliases = map[string]Variant{
	"full_pipeline":     VariantFull,
	"fullpipeline":      VariantFull,
	"full":              VariantFull,
	"runfullpipeline":   VariantFull,
	"campaign_only":     VariantCampaignOnly,
	"campaignonly":      VariantCampaignOnly,
	"campaign":          VariantCampaignOnly,
	"runcampaignonly":   VariantCampaignOnly,
	"tracking_only":     VariantTrackingOnly,
	"trackingonly":      VariantTrackingOnly,
	"tracking":          VariantTrackingOnly,
	"runtrackingonly":   VariantTrackingOnly,
	"runstep6":          VariantTrackingOnly,
	"runstep2":          VariantCampaignOnly,
	"run_full_pipeline": VariantFull,

	// Message names sent by the browser extension popup.
	"start_full_pipeline": VariantFull,
	"run_campaign_only":   VariantCampaignOnly,
	"run_tracking_script": VariantTrackingOnly,
}

// ParseVariant accepts the canonical names plus the legacy command spellings.
func ParseVariant(raw string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := variantAliases[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown pipeline variant %q", raw)
}

// StepNames lists the steps a variant runs.
func (v Variant) StepNames() []string {
	switch v {
	case VariantFull:
		return []string{StepConversion, StepCampaign, StepAudience, StepCreative, StepPublish, StepTracking}
	case VariantCampaignOnly:
		return []string{StepCampaign}
	case VariantTrackingOnly:
		return []string{StepTracking}
	default:
		return nil
	}
}

func Variants() []Variant {
	return []Variant{VariantFull, VariantCampaignOnly, VariantTrackingOnly}
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Paused runs are not terminal but never resume on their own either.
func (s Status) Active() bool {
	return s == StatusRunning
}

// Run is the orchestrator-owned state of one pipeline execution.
type Run struct {
	ID                       string
	CorrelationID            string
	Variant                  Variant
	Steps                    []string
	CurrentStep              string
	CurrentStepOrdinal       int
	FinalOrdinal             int
	RetryCountForCurrentStep int
	CompletedSteps           int
	Status                   Status
	StartedAt                time.Time
	EndedAt                  time.Time
	ErrorCode                string
	ErrorMessage             string
	ErrorSubKind             string
}

// Plan resolves a variant into its ordered descriptors.
func Plan(v Variant, catalog *step.Catalog) ([]step.Descriptor, error) {
	names := v.StepNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("unknown pipeline variant %q", v)
	}
	out := make([]step.Descriptor, 0, len(names))
	prev := 0
	for _, name := range names {
		d, ok := catalog.Get(name)
		if !ok {
			return nil, fmt.Errorf("variant %s: step %q is not registered", v, name)
		}
		if d.Ordinal <= prev {
			return nil, fmt.Errorf("variant %s: step %q ordinal %d does not follow %d", v, name, d.Ordinal, prev)
		}
		prev = d.Ordinal
		out = append(out, d)
	}
	return out, nil
}
