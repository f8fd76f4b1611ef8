package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	KeyBudget           = "budget"
	KeyTargetCPA        = "targetCPA"
	KeyConversionValue  = "conversion_value"
	KeyLocation         = "location"
	KeyLanguage         = "language"
	KeyCampaignName     = "campaignName"
	KeyCampaignID       = "campaign_id"
	KeyAccountName      = "account_name"
	KeyCreativeApproach = "creative_approach"
	KeyStartDate        = "start_date"
	KeyEndDate          = "end_date"
	KeyDeviceType       = "device_type"
	KeyGender           = "gender"
	KeyAgeMin           = "age_min"
	KeyAgeMax           = "age_max"
	KeyAudience         = "audience_name"
	KeyDomain           = "domain"
	KeyFinalURL         = "final_url"
	KeyCTA              = "cta"
	KeyAutoRunTracking  = "auto_run_tracking"
	KeyHeadlines        = "headlines"
	KeyDescriptions     = "descriptions"
	KeyBusinessNames    = "business_names"
)

var aliases = map[string]string{
	"daily_budget":  KeyBudget,
	"target_cpa":    KeyTargetCPA,
	"geo_country":   KeyLocation,
	"business_name": KeyBusinessNames,
	"campaign_name": KeyCampaignName,
}

var (
	numericKeys = map[string]bool{KeyBudget: true, KeyTargetCPA: true, KeyConversionValue: true, KeyAgeMin: true, KeyAgeMax: true}
	boolKeys    = map[string]bool{KeyAutoRunTracking: true}
	listKeys    = map[string]bool{KeyHeadlines: true, KeyDescriptions: true, KeyBusinessNames: true}
)

// Configuration is an immutable flat snapshot of run parameters. Values are
// strings, booleans, float64 numbers or string lists.
type Configuration struct {
	values map[string]any
}

// New normalizes aliases and value shapes, then validates against Schema.
func New(values map[string]any) (Configuration, error) {
	normalized := make(map[string]any, len(values))
	for rawKey, raw := range values {
		key := CanonicalKey(rawKey)
		v, err := normalizeValue(key, raw)
		if err != nil {
			return Configuration{}, err
		}
		if v == nil {
			continue
		}
		// An explicit canonical key beats its alias.
		if _, exists := normalized[key]; exists && rawKey != key {
			continue
		}
		normalized[key] = v
	}
	if err := validate(normalized); err != nil {
		return Configuration{}, err
	}
	return Configuration{values: normalized}, nil
}

// CanonicalKey maps legacy key spellings to their canonical form.
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return key
}

func normalizeValue(key string, raw any) (any, error) {
	switch typed := raw.(type) {
	case nil:
		return nil, nil
	case string:
		switch {
		case listKeys[key]:
			return splitLines(typed), nil
		case numericKeys[key]:
			s := strings.TrimSpace(typed)
			if s == "" {
				return nil, nil
			}
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, ValidationError{Path: "config." + key, Rule: "type", Message: "must be a number"}
			}
			return n, nil
		case boolKeys[key]:
			b, err := strconv.ParseBool(strings.TrimSpace(typed))
			if err != nil {
				return nil, ValidationError{Path: "config." + key, Rule: "type", Message: "must be a boolean"}
			}
			return b, nil
		}
		return typed, nil
	case []string:
		return cleanList(typed), nil
	case []any:
		out := make([]string, 0, len(typed))
		for i, item := range typed {
			s, ok := item.(string)
			if !ok {
				return nil, ValidationError{Path: fmt.Sprintf("config.%s[%d]", key, i), Rule: "type", Message: "must be a string"}
			}
			out = append(out, s)
		}
		return cleanList(out), nil
	case bool:
		return typed, nil
	}
	if n, ok := toFloat(raw); ok {
		return n, nil
	}
	return raw, nil
}

func splitLines(s string) []string {
	return cleanList(strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n"))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c Configuration) Len() int {
	return len(c.values)
}

func (c Configuration) Has(key string) bool {
	_, ok := c.values[CanonicalKey(key)]
	return ok
}

// String renders any scalar value as text; lists are joined by newlines.
func (c Configuration) String(key string) string {
	switch v := c.values[CanonicalKey(key)].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		return strings.Join(v, "\n")
	default:
		return ""
	}
}

func (c Configuration) StringOr(key, fallback string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return fallback
}

func (c Configuration) Float(key string) (float64, bool) {
	v, ok := c.values[CanonicalKey(key)].(float64)
	return v, ok
}

func (c Configuration) Int(key string) (int, bool) {
	v, ok := c.Float(key)
	return int(v), ok
}

func (c Configuration) Bool(key string) bool {
	v, _ := c.values[CanonicalKey(key)].(bool)
	return v
}

// List returns a copy of a list value. A scalar string is a one-item list.
func (c Configuration) List(key string) []string {
	switch v := c.values[CanonicalKey(key)].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a deep copy suitable for encoding.
func (c Configuration) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns a new snapshot with override applied on top; c is unchanged.
func (c Configuration) Merge(override map[string]any) (Configuration, error) {
	if len(override) == 0 {
		return c, nil
	}
	patch, err := New(override)
	if err != nil {
		return Configuration{}, err
	}
	merged := c.Map()
	for k, v := range patch.values {
		merged[k] = v
	}
	return New(merged)
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
