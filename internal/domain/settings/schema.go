package settings

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema describes the known configuration keys. Unknown keys are kept as
// long as they hold a scalar or a string list.
var Schema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		KeyBudget:           nonNegative("number"),
		KeyTargetCPA:        nonNegative("number"),
		KeyConversionValue:  nonNegative("number"),
		KeyLocation:         {Type: "string"},
		KeyLanguage:         {Type: "string"},
		KeyCampaignName:     {Type: "string"},
		KeyCampaignID:       {Type: "string"},
		KeyAccountName:      {Type: "string"},
		KeyCreativeApproach: {Type: "string"},
		KeyStartDate:        {Type: "string"},
		KeyEndDate:          {Type: "string"},
		KeyDeviceType:       {Type: "string", Enum: []any{"mobile", "desktop", "all"}},
		KeyGender:           {Type: "string", Enum: []any{"all", "male", "female"}},
		KeyAgeMin:           {Type: "integer", Minimum: floatPtr(13)},
		KeyAgeMax:           {Type: "integer", Minimum: floatPtr(13)},
		KeyAudience:         {Type: "string"},
		KeyDomain:           {Type: "string"},
		KeyFinalURL:         {Type: "string"},
		KeyCTA:              {Type: "string"},
		KeyAutoRunTracking:  {Type: "boolean"},
		KeyHeadlines:        stringList(),
		KeyDescriptions:     stringList(),
		KeyBusinessNames:    stringList(),
	},
	AdditionalProperties: &jsonschema.Schema{
		Types: []string{"string", "integer", "number", "boolean", "array"},
		Items: &jsonschema.Schema{Type: "string"},
	},
}

// Checked in order; the first keyword found in a validation error names
// the failed rule.
var schemaRules = []string{"enum", "minimum", "type"}

var (
	resolveOnce sync.Once
	resolved    map[string]*jsonschema.Resolved
	additional  *jsonschema.Resolved
	resolveErr  error
)

// resolveSchema resolves every property separately so a failure can be
// reported against the key that caused it.
func resolveSchema() error {
	resolveOnce.Do(func() {
		resolved = make(map[string]*jsonschema.Resolved, len(Schema.Properties))
		for key, prop := range Schema.Properties {
			r, err := prop.Resolve(nil)
			if err != nil {
				resolveErr = SchemaError{Message: "config." + key + ": " + err.Error()}
				return
			}
			resolved[key] = r
		}
		if Schema.AdditionalProperties != nil {
			additional, resolveErr = Schema.AdditionalProperties.Resolve(nil)
			if resolveErr != nil {
				resolveErr = SchemaError{Message: "additional properties: " + resolveErr.Error()}
			}
		}
	})
	return resolveErr
}

func validate(values map[string]any) error {
	if err := resolveSchema(); err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		schema, known := resolved[key]
		if !known {
			if additional == nil {
				return ValidationError{Path: "config." + key, Rule: "additionalProperties", Message: "is not allowed"}
			}
			schema = additional
		}
		if err := schema.Validate(instanceValue(values[key])); err != nil {
			return ValidationError{Path: "config." + key, Rule: ruleOf(err), Message: err.Error()}
		}
	}
	return nil
}

// instanceValue turns normalized values into the JSON shapes the
// validator expects.
func instanceValue(v any) any {
	if list, ok := v.([]string); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	}
	return v
}

func ruleOf(err error) string {
	msg := err.Error()
	for _, rule := range schemaRules {
		if strings.Contains(msg, rule+": ") {
			return rule
		}
	}
	return "type"
}

func nonNegative(typ string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: typ, Minimum: floatPtr(0)}
}

func stringList() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
}

func floatPtr(v float64) *float64 {
	return &v
}
