package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roushou/adpilot/internal/domain/element"
)

type fakeHost struct {
	mu        sync.Mutex
	nodes     map[string][]element.Node
	appearsAt int
	polls     int
	clicks    []string
	values    map[string]string
	clickErr  error
}

func (h *fakeHost) QueryAll(_ context.Context, _ *element.Node, css string) ([]element.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	if h.polls <= h.appearsAt {
		return nil, nil
	}
	return h.nodes[css], nil
}

func (h *fakeHost) ScrollIntoView(context.Context, element.Node) error { return nil }

func (h *fakeHost) Click(_ context.Context, n element.Node) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clickErr != nil {
		return h.clickErr
	}
	h.clicks = append(h.clicks, n.Ref)
	return nil
}

func (h *fakeHost) SetValue(_ context.Context, n element.Node, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values == nil {
		h.values = map[string]string{}
	}
	h.values[n.Ref] = value
	return nil
}

func (h *fakeHost) Reload(context.Context) error { return nil }

func fastTiming() Timing {
	return Timing{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond, Settle: 0}
}

func saveButton() element.Node {
	return element.Node{Ref: "save", Path: []int{0, 1}, Tag: "button", Text: "Save", Visible: true}
}

func TestWaitForAppearPollsUntilVisible(t *testing.T) {
	host := &fakeHost{
		nodes:     map[string][]element.Node{element.InteractiveSelector: {saveButton()}},
		appearsAt: 3,
	}
	p := NewPrimitives(host, Timing{PollInterval: time.Millisecond, Timeout: time.Second})
	node, res := p.WaitForAppear(context.Background(), element.Target("save", element.ByText("Save")), 0)
	if !res.OK() || node.Ref != "save" {
		t.Fatalf("expected success, got %v", res)
	}
	if host.polls < 4 {
		t.Fatalf("expected repeated polling, got %d polls", host.polls)
	}
}

func TestWaitForAppearTimesOut(t *testing.T) {
	p := NewPrimitives(&fakeHost{}, fastTiming())
	_, res := p.WaitForAppear(context.Background(), element.Button("Missing"), 0)
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %v", res)
	}
}

func TestClickReportsNotFoundForAbsentTarget(t *testing.T) {
	p := NewPrimitives(&fakeHost{}, fastTiming())
	res := p.Click(context.Background(), element.Button("Missing"))
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found, got %v", res)
	}
}

func TestClickAndFill(t *testing.T) {
	input := element.Node{Ref: "budget", Path: []int{0, 2}, Tag: "input", Attrs: map[string]string{"aria-label": "Budget"}, Visible: true}
	host := &fakeHost{nodes: map[string][]element.Node{
		element.InteractiveSelector: {saveButton()},
		"[aria-label]":              {input},
	}}
	p := NewPrimitives(host, fastTiming())
	ctx := context.Background()

	if res := p.FillAndCommit(ctx, element.Target("budget", element.ByLabel("budget")), "100"); !res.OK() {
		t.Fatalf("fill: %v", res)
	}
	if res := p.Click(ctx, element.Target("save", element.ByText("Save"))); !res.OK() {
		t.Fatalf("click: %v", res)
	}
	if host.values["budget"] != "100" {
		t.Fatalf("expected value to be set, got %#v", host.values)
	}
	if len(host.clicks) != 1 || host.clicks[0] != "save" {
		t.Fatalf("unexpected clicks %#v", host.clicks)
	}
}

type offlineErr struct{}

func (offlineErr) Error() string        { return "net::ERR_INTERNET_DISCONNECTED" }
func (offlineErr) NetworkFailure() bool { return true }

func TestClickClassifiesNetworkFailure(t *testing.T) {
	host := &fakeHost{
		nodes:    map[string][]element.Node{element.InteractiveSelector: {saveButton()}},
		clickErr: offlineErr{},
	}
	p := NewPrimitives(host, fastTiming())
	res := p.Click(context.Background(), element.Target("save", element.ByText("Save")))
	if res.Outcome != OutcomeError || !res.Network {
		t.Fatalf("expected network error, got %#v", res)
	}

	host.clickErr = errors.New("node detached")
	res = p.Click(context.Background(), element.Target("save", element.ByText("Save")))
	if res.Outcome != OutcomeError || res.Network {
		t.Fatalf("expected plain error, got %#v", res)
	}
}

func TestPrimitivesHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPrimitives(&fakeHost{}, fastTiming())
	res := p.Click(ctx, element.Button("Save"))
	if !IsCanceled(res) {
		t.Fatalf("expected canceled result, got %#v", res)
	}
}

func TestFindAllKeepsVisibleNodesInOrder(t *testing.T) {
	host := &fakeHost{nodes: map[string][]element.Node{
		"input": {
			{Ref: "a", Path: []int{1, 0}, Visible: true},
			{Ref: "b", Path: []int{1, 1}},
			{Ref: "c", Path: []int{1, 2}, Visible: true},
		},
	}}
	p := NewPrimitives(host, fastTiming())
	nodes, res := p.FindAll(context.Background(), "input")
	if !res.OK() || len(nodes) != 2 || nodes[0].Ref != "a" || nodes[1].Ref != "c" {
		t.Fatalf("unexpected nodes %#v result %v", nodes, res)
	}

	if _, res := p.FindAll(context.Background(), "textarea"); res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found for empty query, got %v", res)
	}

	if res := p.FillNode(context.Background(), "headline", nodes[1], "hello"); !res.OK() || host.values["c"] != "hello" {
		t.Fatalf("fill node failed: %v %#v", res, host.values)
	}
}
