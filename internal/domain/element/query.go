package element

import (
	"errors"
	"fmt"
	"strings"
)

type StrategyKind string

const (
	StrategyAttribute  StrategyKind = "attribute"
	StrategyText       StrategyKind = "text"
	StrategyStructural StrategyKind = "structural"
	StrategyContains   StrategyKind = "contains"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchPrefix   MatchMode = "prefix"
)

// InteractiveSelector lists the nodes considered by the exact-text strategy.
const InteractiveSelector = `button, a, [role="button"]`

// ContentSelector lists the nodes considered by the contains-text strategy.
const ContentSelector = `button, a, [role="button"], [role="option"], [role="menuitem"], [role="tab"], [role="checkbox"], label, span, div, li`

// Strategy is one resolution technique.
type Strategy struct {
	Kind      StrategyKind `json:"kind" yaml:"kind"`
	Attribute string       `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Match     MatchMode    `json:"match,omitempty" yaml:"match,omitempty"`
	Value     string       `json:"value,omitempty" yaml:"value,omitempty"`
	// Selector narrows candidates for attribute, text and contains strategies
	// and is the whole pattern for structural ones.
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
}

func (s Strategy) String() string {
	switch s.Kind {
	case StrategyAttribute:
		return fmt.Sprintf("attribute[%s %s %q]", s.attribute(), s.match(), s.Value)
	case StrategyStructural:
		return fmt.Sprintf("structural[%s]", s.Selector)
	default:
		return fmt.Sprintf("%s[%q]", s.Kind, s.Value)
	}
}

func (s Strategy) attribute() string {
	if s.Attribute == "" {
		return "aria-label"
	}
	return strings.ToLower(s.Attribute)
}

func (s Strategy) match() MatchMode {
	if s.Match == "" {
		return MatchContains
	}
	return s.Match
}

func (s Strategy) validate() error {
	switch s.Kind {
	case StrategyAttribute:
		if s.Value == "" {
			return errors.New("attribute strategy requires a value")
		}
		switch s.match() {
		case MatchContains, MatchExact, MatchPrefix:
		default:
			return fmt.Errorf("unsupported match mode %q", s.Match)
		}
	case StrategyText, StrategyContains:
		if strings.TrimSpace(s.Value) == "" {
			return fmt.Errorf("%s strategy requires a value", s.Kind)
		}
	case StrategyStructural:
		if strings.TrimSpace(s.Selector) == "" {
			return errors.New("structural strategy requires a selector")
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	if strings.Contains(s.Selector, ":has-text(") {
		return errors.New("selector must not contain :has-text; use ParseSelector")
	}
	return nil
}

// Query is a logical UI target: strategies are tried in order and the
// first one that yields a node wins.
type Query struct {
	Name       string     `json:"name" yaml:"name"`
	Strategies []Strategy `json:"strategies" yaml:"strategies"`
}

func (q Query) Validate() error {
	if len(q.Strategies) == 0 {
		return fmt.Errorf("query %q requires at least one strategy", q.Name)
	}
	for i, s := range q.Strategies {
		if err := s.validate(); err != nil {
			return fmt.Errorf("query %q strategy %d: %w", q.Name, i, err)
		}
	}
	return nil
}

func (q Query) String() string {
	if q.Name != "" {
		return q.Name
	}
	if len(q.Strategies) > 0 {
		return q.Strategies[0].String()
	}
	return "<empty query>"
}

// Target builds a query from strategies.
func Target(name string, strategies ...Strategy) Query {
	return Query{Name: name, Strategies: strategies}
}

// Or returns a copy of q with extra strategies appended.
func (q Query) Or(strategies ...Strategy) Query {
	out := make([]Strategy, 0, len(q.Strategies)+len(strategies))
	out = append(out, q.Strategies...)
	out = append(out, strategies...)
	q.Strategies = out
	return q
}

// ByLabel matches aria-label containing value.
func ByLabel(value string) Strategy {
	return Strategy{Kind: StrategyAttribute, Attribute: "aria-label", Match: MatchContains, Value: value}
}

// ByAttribute matches any attribute with the given mode. selector may
// narrow the candidates (for example "input").
func ByAttribute(selector, attribute string, mode MatchMode, value string) Strategy {
	return Strategy{Kind: StrategyAttribute, Selector: selector, Attribute: attribute, Match: mode, Value: value}
}

// ByText matches the exact text of a button, link or role=button node.
func ByText(value string) Strategy {
	return Strategy{Kind: StrategyText, Value: value}
}

// BySelector is the structural escape hatch.
func BySelector(css string) Strategy {
	return Strategy{Kind: StrategyStructural, Selector: css}
}

// ByContains is the last-resort case-insensitive text search.
func ByContains(value string, selector ...string) Strategy {
	return Strategy{Kind: StrategyContains, Value: value, Selector: strings.Join(selector, ", ")}
}

// Button is the common shape for clickable labels.
func Button(label string) Query {
	return Target(label, ByLabel(label), ByText(label), ByContains(label, InteractiveSelector))
}
