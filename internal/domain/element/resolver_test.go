package element

import (
	"context"
	"errors"
	"testing"
)

type fakeDocument struct {
	byCSS   map[string][]Node
	queries []string
	err     error
}

func (d *fakeDocument) QueryAll(_ context.Context, scope *Node, css string) ([]Node, error) {
	d.queries = append(d.queries, css)
	if d.err != nil {
		return nil, d.err
	}
	nodes := d.byCSS[css]
	if scope == nil {
		return nodes, nil
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if scope.Contains(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func node(ref string, path []int, text string, attrs map[string]string) Node {
	return Node{Ref: ref, Path: path, Tag: "button", Text: text, Attrs: attrs, Visible: true}
}

func TestResolvePrefersEarliestStrategy(t *testing.T) {
	labelled := node("labelled", []int{0, 4}, "Go", map[string]string{"aria-label": "Save campaign"})
	textual := node("textual", []int{0, 1}, "Save", nil)
	doc := &fakeDocument{byCSS: map[string][]Node{
		"[aria-label]":      {labelled},
		InteractiveSelector: {textual, labelled},
	}}

	match, ok, err := Resolve(context.Background(), doc, Target("save", ByLabel("save"), ByText("Save")), nil)
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if match.Node.Ref != "labelled" || match.Strategy != 0 {
		t.Fatalf("expected attribute strategy to win, got %#v", match)
	}
	if len(doc.queries) != 1 {
		t.Fatalf("expected later strategies to be skipped, queries=%v", doc.queries)
	}
}

func TestResolveFallsThroughToLaterStrategy(t *testing.T) {
	textual := node("textual", []int{0, 1}, "  Save  ", nil)
	doc := &fakeDocument{byCSS: map[string][]Node{
		InteractiveSelector: {textual},
	}}
	match, ok, err := Resolve(context.Background(), doc, Button("save"), nil)
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if match.Node.Ref != "textual" || match.Strategy != 1 {
		t.Fatalf("unexpected match %#v", match)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	a := node("a", []int{0, 1}, "Next", nil)
	b := node("b", []int{0, 2}, "Next", nil)
	doc := &fakeDocument{byCSS: map[string][]Node{InteractiveSelector: {a, b}}}
	q := Target("next", ByText("Next"))

	first, _, _ := Resolve(context.Background(), doc, q, nil)
	second, _, _ := Resolve(context.Background(), doc, q, nil)
	if first.Node.Ref != "a" || second.Node.Ref != first.Node.Ref {
		t.Fatalf("expected stable first-in-order match, got %q then %q", first.Node.Ref, second.Node.Ref)
	}
}

func TestResolveSkipsHiddenNodes(t *testing.T) {
	hidden := node("hidden", []int{0, 1}, "Done", nil)
	hidden.Visible = false
	shown := node("shown", []int{0, 2}, "Done", nil)
	doc := &fakeDocument{byCSS: map[string][]Node{InteractiveSelector: {hidden, shown}}}
	match, ok, _ := Resolve(context.Background(), doc, Target("done", ByText("Done")), nil)
	if !ok || match.Node.Ref != "shown" {
		t.Fatalf("expected visible node, got %#v ok=%v", match, ok)
	}
}

func TestResolveNotFoundIsNotAnError(t *testing.T) {
	doc := &fakeDocument{byCSS: map[string][]Node{}}
	_, ok, err := Resolve(context.Background(), doc, Button("Publish"), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestResolveReportsHostFailure(t *testing.T) {
	hostErr := errors.New("target closed")
	doc := &fakeDocument{err: hostErr}
	_, _, err := Resolve(context.Background(), doc, Button("Publish"), nil)
	if !errors.Is(err, hostErr) {
		t.Fatalf("expected host error, got %v", err)
	}
}

func TestResolveConfinesSearchToScope(t *testing.T) {
	outside := node("outside", []int{0, 1}, "Continue", nil)
	inside := node("inside", []int{0, 5, 2}, "Continue", nil)
	doc := &fakeDocument{byCSS: map[string][]Node{InteractiveSelector: {outside, inside}}}
	dialog := Node{Ref: "dialog", Path: []int{0, 5}, Visible: true}

	match, ok, _ := Resolve(context.Background(), doc, Target("continue", ByText("Continue")), &dialog)
	if !ok || match.Node.Ref != "inside" {
		t.Fatalf("expected dialog-local match, got %#v", match)
	}
}

func TestResolveContainsPicksInnermost(t *testing.T) {
	outer := Node{Ref: "outer", Path: []int{0, 1}, Tag: "div", Text: "Every hour schedule", Visible: true}
	inner := Node{Ref: "inner", Path: []int{0, 1, 3}, Tag: "span", Text: "Every hour", Visible: true}
	doc := &fakeDocument{byCSS: map[string][]Node{ContentSelector: {outer, inner}}}

	match, ok, _ := Resolve(context.Background(), doc, Target("hourly", ByContains("every HOUR")), nil)
	if !ok || match.Node.Ref != "inner" {
		t.Fatalf("expected innermost node, got %#v", match)
	}
}

func TestResolveAttributeModes(t *testing.T) {
	input := Node{Ref: "budget", Path: []int{0, 1}, Tag: "input", Attrs: map[string]string{"placeholder": "Daily budget"}, Visible: true}
	doc := &fakeDocument{byCSS: map[string][]Node{"input": {input}}}
	ctx := context.Background()

	if _, ok, _ := Resolve(ctx, doc, Target("b", ByAttribute("input", "placeholder", MatchPrefix, "daily")), nil); !ok {
		t.Fatal("expected prefix match")
	}
	if _, ok, _ := Resolve(ctx, doc, Target("b", ByAttribute("input", "placeholder", MatchExact, "daily")), nil); ok {
		t.Fatal("expected exact mode to reject partial value")
	}
}

func TestQueryValidateRequiresStrategy(t *testing.T) {
	if err := (Query{Name: "empty"}).Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	if err := Target("bad", BySelector(`button:has-text("x")`)).Validate(); err == nil {
		t.Fatal("expected :has-text to be rejected in native selectors")
	}
}
