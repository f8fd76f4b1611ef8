package settings

import "testing"

func TestNewRejectsWrongType(t *testing.T) {
	_, err := New(map[string]any{KeyLocation: 12})
	if err == nil {
		t.Fatal("expected type validation error")
	}
	validationErr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if validationErr.Path != "config.location" || validationErr.Rule != "type" {
		t.Fatalf("unexpected validation error: %#v", validationErr)
	}
}

func TestNewRejectsNonNumericBudget(t *testing.T) {
	_, err := New(map[string]any{"daily_budget": "a lot"})
	validationErr, ok := AsValidationError(err)
	if !ok || validationErr.Path != "config.budget" {
		t.Fatalf("expected budget validation error, got %v", err)
	}
}

func TestNewEnforcesEnum(t *testing.T) {
	_, err := New(map[string]any{KeyGender: "robot"})
	validationErr, ok := AsValidationError(err)
	if !ok || validationErr.Rule != "enum" {
		t.Fatalf("expected enum validation error, got %v", err)
	}
}

func TestNewEnforcesMinimumAndInteger(t *testing.T) {
	if _, err := New(map[string]any{KeyTargetCPA: -1}); err == nil {
		t.Fatal("expected minimum validation error")
	}
	if _, err := New(map[string]any{KeyAgeMin: 18.5}); err == nil {
		t.Fatal("expected integer validation error")
	}
}

func TestNewRejectsNestedValues(t *testing.T) {
	_, err := New(map[string]any{"extra": map[string]any{"a": 1}})
	validationErr, ok := AsValidationError(err)
	if !ok || validationErr.Path != "config.extra" {
		t.Fatalf("expected flat-value validation error, got %v", err)
	}
}

func TestNewAllowsUnknownScalars(t *testing.T) {
	cfg, err := New(map[string]any{"note": "hello", "weight": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.String("weight") != "3" {
		t.Fatalf("unexpected rendering %q", cfg.String("weight"))
	}
}

func TestNewReportsMinimumRuleForNegativeBudget(t *testing.T) {
	_, err := New(map[string]any{"daily_budget": -1})
	validationErr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validationErr.Path != "config.budget" || validationErr.Rule != "minimum" {
		t.Fatalf("unexpected validation error: %#v", validationErr)
	}
}

func TestNewRejectsUnknownListOfNumbers(t *testing.T) {
	_, err := New(map[string]any{"tags": []int{1, 2}})
	validationErr, ok := AsValidationError(err)
	if !ok || validationErr.Path != "config.tags" {
		t.Fatalf("expected tags validation error, got %v", err)
	}
}

func TestNewAcceptsWholeAgeAndKnownLists(t *testing.T) {
	cfg, err := New(map[string]any{
		KeyAgeMin:    "18",
		KeyHeadlines: "One\nTwo",
		KeyGender:    "female",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if age, _ := cfg.Int(KeyAgeMin); age != 18 {
		t.Fatalf("unexpected age %d", age)
	}
	if got := cfg.List(KeyHeadlines); len(got) != 2 {
		t.Fatalf("unexpected headlines %#v", got)
	}
}

func TestSchemaPropertiesResolve(t *testing.T) {
	if err := resolveSchema(); err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	for key := range Schema.Properties {
		if resolved[key] == nil {
			t.Fatalf("property %q not resolved", key)
		}
	}
}
