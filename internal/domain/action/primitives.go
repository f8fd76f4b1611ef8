package action

import (
	"context"
	"fmt"
	"time"

	"github.com/roushou/adpilot/internal/domain/element"
)

// Host is the live UI the primitives act on.
type Host interface {
	element.Document
	ScrollIntoView(ctx context.Context, node element.Node) error
	Click(ctx context.Context, node element.Node) error
	// SetValue assigns value and fires input and change notifications.
	SetValue(ctx context.Context, node element.Node, value string) error
	Reload(ctx context.Context) error
}

type Timing struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Settle       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		PollInterval: 100 * time.Millisecond,
		Timeout:      10 * time.Second,
		Settle:       500 * time.Millisecond,
	}
}

func (t Timing) normalized() Timing {
	d := DefaultTiming()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.Timeout <= 0 {
		t.Timeout = d.Timeout
	}
	if t.Settle < 0 {
		t.Settle = 0
	}
	return t
}

// Primitives are stateless between calls; a value may be shared freely.
type Primitives struct {
	host   Host
	timing Timing
	scope  *element.Node
}

func NewPrimitives(host Host, timing Timing) *Primitives {
	return &Primitives{host: host, timing: timing.normalized()}
}

func (p *Primitives) Host() Host {
	return p.host
}

func (p *Primitives) Timing() Timing {
	return p.timing
}

// Within confines resolution to scope.
func (p *Primitives) Within(scope element.Node) *Primitives {
	cp := *p
	cp.scope = &scope
	return &cp
}

// Find resolves once without waiting.
func (p *Primitives) Find(ctx context.Context, q element.Query) (element.Node, Result) {
	if err := ctx.Err(); err != nil {
		return element.Node{}, Canceled(err)
	}
	match, ok, err := element.Resolve(ctx, p.host, q, p.scope)
	if err != nil {
		if ctx.Err() != nil {
			return element.Node{}, Canceled(ctx.Err())
		}
		return element.Node{}, Failed(q.String(), err)
	}
	if !ok {
		return element.Node{}, Missing(q.String(), "no strategy matched")
	}
	return match.Node, Succeeded(q.String())
}

// FindAll returns the visible nodes matching css in document order. It is
// meant for repeated fields such as a list of headline inputs.
func (p *Primitives) FindAll(ctx context.Context, css string) ([]element.Node, Result) {
	if err := ctx.Err(); err != nil {
		return nil, Canceled(err)
	}
	nodes, err := p.host.QueryAll(ctx, p.scope, css)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Canceled(ctx.Err())
		}
		return nil, Failed(css, err)
	}
	visible := make([]element.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Visible {
			visible = append(visible, n)
		}
	}
	if len(visible) == 0 {
		return nil, Missing(css, "no visible node")
	}
	return visible, Succeeded(css)
}

// WaitForAppear polls the resolver until q resolves or timeout expires. A
// non-positive timeout uses the configured default.
func (p *Primitives) WaitForAppear(ctx context.Context, q element.Query, timeout time.Duration) (element.Node, Result) {
	if timeout <= 0 {
		timeout = p.timing.Timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		node, res := p.Find(ctx, q)
		if res.OK() || res.Outcome == OutcomeError {
			return node, res
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return element.Node{}, TimedOut(q.String(), fmt.Sprintf("not visible after %s", timeout))
		}
		wait := p.timing.PollInterval
		if wait > remaining {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return element.Node{}, Canceled(err)
		}
	}
}

// Click waits for q, scrolls it into view, clicks and lets the UI settle.
func (p *Primitives) Click(ctx context.Context, q element.Query) Result {
	node, res := p.WaitForAppear(ctx, q, 0)
	if res.Outcome == OutcomeTimeout {
		return Missing(q.String(), res.Detail)
	}
	if !res.OK() {
		return res
	}
	return p.ClickNode(ctx, q.String(), node)
}

// ClickNode acts on an already resolved node.
func (p *Primitives) ClickNode(ctx context.Context, target string, node element.Node) Result {
	if err := p.host.ScrollIntoView(ctx, node); err != nil {
		return Failed(target, err)
	}
	if err := p.host.Click(ctx, node); err != nil {
		return Failed(target, err)
	}
	if err := sleep(ctx, p.timing.Settle); err != nil {
		return Canceled(err)
	}
	return Succeeded(target)
}

// FillAndCommit waits for q, assigns value and lets the UI react.
func (p *Primitives) FillAndCommit(ctx context.Context, q element.Query, value string) Result {
	node, res := p.WaitForAppear(ctx, q, 0)
	if res.Outcome == OutcomeTimeout {
		return Missing(q.String(), res.Detail)
	}
	if !res.OK() {
		return res
	}
	return p.FillNode(ctx, q.String(), node, value)
}

// FillNode assigns value to an already resolved node.
func (p *Primitives) FillNode(ctx context.Context, target string, node element.Node, value string) Result {
	if err := p.host.ScrollIntoView(ctx, node); err != nil {
		return Failed(target, err)
	}
	if err := p.host.SetValue(ctx, node, value); err != nil {
		return Failed(target, err)
	}
	if err := sleep(ctx, p.timing.Settle); err != nil {
		return Canceled(err)
	}
	return Succeeded(target)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
