package element

import (
	"context"
	"fmt"
	"strings"
)

// Match is a resolved node plus the index of the strategy that found it.
type Match struct {
	Node     Node
	Strategy int
}

// Resolve tries each strategy of q in order and stops at the first one that
// yields a visible node. found is false when every strategy came up empty;
// err is reserved for host failures.
func Resolve(ctx context.Context, doc Document, q Query, scope *Node) (Match, bool, error) {
	if err := q.Validate(); err != nil {
		return Match{}, false, err
	}
	for i, s := range q.Strategies {
		if err := ctx.Err(); err != nil {
			return Match{}, false, err
		}
		node, ok, err := apply(ctx, doc, s, scope)
		if err != nil {
			return Match{}, false, fmt.Errorf("resolve %s via %s: %w", q, s, err)
		}
		if ok {
			return Match{Node: node, Strategy: i}, true, nil
		}
	}
	return Match{}, false, nil
}

func apply(ctx context.Context, doc Document, s Strategy, scope *Node) (Node, bool, error) {
	switch s.Kind {
	case StrategyAttribute:
		css := s.Selector
		if css == "" {
			css = "[" + s.attribute() + "]"
		}
		nodes, err := doc.QueryAll(ctx, scope, css)
		if err != nil {
			return Node{}, false, err
		}
		want := strings.ToLower(s.Value)
		return first(nodes, func(n Node) bool {
			v, ok := n.Attr(s.attribute())
			if !ok {
				return false
			}
			v = strings.ToLower(v)
			switch s.match() {
			case MatchExact:
				return v == want
			case MatchPrefix:
				return strings.HasPrefix(v, want)
			default:
				return strings.Contains(v, want)
			}
		})
	case StrategyText:
		css := s.Selector
		if css == "" {
			css = InteractiveSelector
		}
		nodes, err := doc.QueryAll(ctx, scope, css)
		if err != nil {
			return Node{}, false, err
		}
		want := normalizeText(s.Value)
		return first(nodes, func(n Node) bool { return normalizeText(n.Text) == want })
	case StrategyStructural:
		nodes, err := doc.QueryAll(ctx, scope, s.Selector)
		if err != nil {
			return Node{}, false, err
		}
		return first(nodes, func(Node) bool { return true })
	case StrategyContains:
		css := s.Selector
		if css == "" {
			css = ContentSelector
		}
		nodes, err := doc.QueryAll(ctx, scope, css)
		if err != nil {
			return Node{}, false, err
		}
		want := normalizeText(s.Value)
		matches := make([]Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Visible && strings.Contains(normalizeText(n.Text), want) {
				matches = append(matches, n)
			}
		}
		return innermost(matches)
	default:
		return Node{}, false, fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
}

func first(nodes []Node, keep func(Node) bool) (Node, bool, error) {
	var best Node
	found := false
	for _, n := range nodes {
		if !n.Visible || !keep(n) {
			continue
		}
		if !found || n.Before(best) {
			best = n
			found = true
		}
	}
	return best, found, nil
}

// innermost drops every match that contains another match, then returns the
// first survivor in document order.
func innermost(matches []Node) (Node, bool, error) {
	var best Node
	found := false
	for i, n := range matches {
		outer := false
		for j, other := range matches {
			if i != j && n.Contains(other) {
				outer = true
				break
			}
		}
		if outer {
			continue
		}
		if !found || n.Before(best) {
			best = n
			found = true
		}
	}
	return best, found, nil
}
