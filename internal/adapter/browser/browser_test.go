package browser

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/fault"
)

var _ action.Host = (*Host)(nil)

func TestJSPathWalksChildren(t *testing.T) {
	if got := jsPath([]int{1, 0, 3}); got != "document.documentElement.children[1].children[0].children[3]" {
		t.Fatalf("unexpected js path %q", got)
	}
	if got := jsPath(nil); got != "document.documentElement" {
		t.Fatalf("unexpected root path %q", got)
	}
}

func TestToNodesBuildsRefsAndRoles(t *testing.T) {
	nodes := toNodes([]rawNode{
		{Path: []int{1, 2}, Tag: "div", Text: "Next", Attrs: map[string]string{"role": "button"}, Visible: true},
		{Path: []int{1, 3}, Tag: "span"},
	})
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Ref != "1.2" || nodes[0].Role != "button" || !nodes[0].Visible {
		t.Fatalf("unexpected first node %#v", nodes[0])
	}
	if nodes[1].Attrs == nil {
		t.Fatalf("attrs should never be nil")
	}
	if !nodes[0].Before(nodes[1]) {
		t.Fatalf("paths should order nodes")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestWrapClassifiesNetworkErrors(t *testing.T) {
	err := wrap("click", timeoutErr{}, false)
	if !action.IsNetwork(err) {
		t.Fatalf("net.Error should classify as network")
	}
	err = wrap("click", errors.New("node not visible"), false)
	if action.IsNetwork(err) {
		t.Fatalf("plain error should not classify as network")
	}
	if !isNetworkText("page load failed: net::ERR_INTERNET_DISCONNECTED") {
		t.Fatalf("expected chromium error text to classify as network")
	}
	if wrap("x", nil, true) != nil {
		t.Fatalf("nil error should stay nil")
	}
}

func TestToFaultMapsCategories(t *testing.T) {
	f, ok := fault.As(ToFault(wrap("reload", errors.New("boom"), true), "corr-1"))
	if !ok {
		t.Fatalf("expected fault")
	}
	if f.Category != fault.CategoryNetwork || !f.Retryable || f.CorrelationID != "corr-1" {
		t.Fatalf("unexpected offline fault %#v", f)
	}
	if f.Details["operation"] != "reload" {
		t.Fatalf("expected operation detail, got %#v", f.Details)
	}

	f, _ = fault.As(ToFault(wrap("click", ErrClosed, false), ""))
	if f.Category != fault.CategoryPlatform {
		t.Fatalf("closed host should be a platform fault, got %#v", f)
	}
	if ToFault(nil, "") != nil {
		t.Fatalf("nil should map to nil")
	}
}

func TestClosedHostRejectsCalls(t *testing.T) {
	h := &Host{closed: true, opTimeout: time.Second}
	err := h.Reload(context.Background())
	var he *HostError
	if !errors.As(err, &he) || !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed host error, got %v", err)
	}
}
