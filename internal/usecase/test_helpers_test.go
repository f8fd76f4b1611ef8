package usecase

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/element"
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/report"
	"github.com/roushou/adpilot/internal/domain/runlog"
	"github.com/roushou/adpilot/internal/domain/step"
)

type testHost struct {
	mu      sync.Mutex
	nodes   map[string][]element.Node
	reloads int
	clicks  []string
	values  map[string]string
}

func newTestHost(nodes ...element.Node) *testHost {
	h := &testHost{nodes: map[string][]element.Node{}, values: map[string]string{}}
	for _, n := range nodes {
		h.nodes[element.InteractiveSelector] = append(h.nodes[element.InteractiveSelector], n)
		if _, ok := n.Attr("aria-label"); ok {
			h.nodes["[aria-label]"] = append(h.nodes["[aria-label]"], n)
		}
	}
	return h
}

func (h *testHost) QueryAll(_ context.Context, _ *element.Node, css string) ([]element.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[css], nil
}

func (h *testHost) ScrollIntoView(context.Context, element.Node) error { return nil }

func (h *testHost) Click(_ context.Context, n element.Node) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clicks = append(h.clicks, n.Ref)
	return nil
}

func (h *testHost) SetValue(_ context.Context, n element.Node, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[n.Ref] = value
	return nil
}

func (h *testHost) Reload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads++
	return nil
}

func (h *testHost) reloadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}

func button(ref, text string) element.Node {
	return element.Node{Ref: ref, Path: []int{0, len(ref)}, Tag: "button", Text: text, Visible: true}
}

func succeed() step.Handler {
	return step.HandlerFunc(func(context.Context, step.Env) action.Result {
		return action.Succeeded("ok")
	})
}

// fullCatalog registers the six pipeline steps, overriding handlers by name.
func fullCatalog(t *testing.T, handlers map[string]step.Handler, recoveries map[string]step.Recovery) *step.Catalog {
	t.Helper()
	names := pipeline.VariantFull.StepNames()
	c := step.NewCatalog()
	for i, name := range names {
		h := handlers[name]
		if h == nil {
			h = succeed()
		}
		if err := c.Register(step.Descriptor{Name: name, Ordinal: i + 1, Handler: h, Recovery: recoveries[name]}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return c
}

func fastConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Retry:  pipeline.RetryPolicy{MaxAttempts: 3, Delay: 0},
		Timing: action.Timing{PollInterval: time.Millisecond, Timeout: 15 * time.Millisecond, Settle: 0},
	}
}

func newTestOrchestrator(t *testing.T, catalog *step.Catalog, host action.Host, sink report.Sink, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(slog.Default(), catalog, host, sink, runlog.NewInMemoryStore(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func waitRunStatus(t *testing.T, runtime PipelineRuntime, runID string, want string) RunSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := runtime.Status(runID)
		if err == nil && snapshot.Status == want {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	snapshot, _ := runtime.Status(runID)
	t.Fatalf("timed out waiting for status %q, last snapshot %#v", want, snapshot)
	return RunSnapshot{}
}
