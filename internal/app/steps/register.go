// Package steps holds the concrete campaign step catalog and the UI targets
// its steps resolve.
package steps

import (
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/step"
)

// Descriptors lists the six steps in execution order. Steps that start by
// navigating recover by reloading the page.
func Descriptors(targets Targets) []step.Descriptor {
	return []step.Descriptor{
		{Name: pipeline.StepConversion, Title: "Create conversion action", Ordinal: 1, Handler: Conversion{targets: targets}, Recovery: step.ReloadPage},
		{Name: pipeline.StepCampaign, Title: "Create campaign", Ordinal: 2, Handler: Campaign{targets: targets}, Recovery: step.ReloadPage},
		{Name: pipeline.StepAudience, Title: "Configure audience", Ordinal: 3, Handler: Audience{targets: targets}},
		{Name: pipeline.StepCreative, Title: "Create ads", Ordinal: 4, Handler: Creative{targets: targets}},
		{Name: pipeline.StepPublish, Title: "Publish campaign", Ordinal: 5, Handler: Publish{targets: targets}},
		{Name: pipeline.StepTracking, Title: "Install tracking script", Ordinal: 6, Handler: Tracking{targets: targets}, Recovery: step.ReloadPage},
	}
}

func Register(catalog *step.Catalog, targets Targets) error {
	for _, d := range Descriptors(targets) {
		if err := catalog.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func NewCatalog(targets Targets) (*step.Catalog, error) {
	catalog := step.NewCatalog()
	if err := Register(catalog, targets); err != nil {
		return nil, err
	}
	return catalog, nil
}
