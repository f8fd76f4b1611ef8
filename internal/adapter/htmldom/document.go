// Package htmldom hosts pipeline steps against a parsed HTML document. It
// backs dry runs against saved pages and the step tests.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/roushou/adpilot/internal/domain/element"
)

// ClickHook runs after a click on a matching element. Hooks may mutate the
// document through the passed handle.
type ClickHook func(d *Document, node element.Node) error

type hook struct {
	sel cascadia.SelectorGroup
	fn  ClickHook
}

type Document struct {
	mu      sync.Mutex
	source  string
	path    string
	root    *html.Node
	hooks   []hook
	clicks  []element.Node
	values  map[string]string
	reloads int
	// reloadErr is returned by the next Reload and then cleared.
	reloadErr error
}

func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ParseString(string(data))
}

func ParseString(source string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{source: source, root: root, values: map[string]string{}}, nil
}

// Open parses the file at path. Reload re-reads it.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	doc, err := ParseString(string(data))
	if err != nil {
		return nil, err
	}
	doc.path = path
	return doc, nil
}

// OnClick registers fn for clicks on elements matching css.
func (d *Document) OnClick(css string, fn ClickHook) error {
	sel, err := cascadia.ParseGroup(css)
	if err != nil {
		return fmt.Errorf("invalid hook selector %q: %w", css, err)
	}
	d.mu.Lock()
	d.hooks = append(d.hooks, hook{sel: sel, fn: fn})
	d.mu.Unlock()
	return nil
}

func (d *Document) QueryAll(ctx context.Context, scope *element.Node, css string) ([]element.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := cascadia.ParseGroup(css)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", css, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.documentElement()
	var basePath []int
	if scope != nil {
		n := d.lookup(scope.Ref)
		if n == nil {
			return nil, nil
		}
		base = n
		basePath = append([]int(nil), scope.Path...)
	}
	if base == nil {
		return nil, nil
	}

	matches := cascadia.QueryAll(base, sel)
	out := make([]element.Node, 0, len(matches))
	for _, m := range matches {
		out = append(out, snapshot(m, pathFrom(base, m, basePath)))
	}
	return out, nil
}

func (d *Document) ScrollIntoView(ctx context.Context, node element.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(node.Ref) == nil {
		return staleError(node.Ref)
	}
	return nil
}

func (d *Document) Click(ctx context.Context, node element.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	n := d.lookup(node.Ref)
	if n == nil {
		d.mu.Unlock()
		return staleError(node.Ref)
	}
	d.clicks = append(d.clicks, node)
	if n.Data == "input" && (attr(n, "type") == "checkbox" || attr(n, "type") == "radio") {
		if _, ok := attrLookup(n, "checked"); ok {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "")
		}
	}
	var fire []ClickHook
	for _, h := range d.hooks {
		if h.sel.Match(n) {
			fire = append(fire, h.fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fire {
		if err := fn(d, node); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) SetValue(ctx context.Context, node element.Node, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.lookup(node.Ref)
	if n == nil {
		return staleError(node.Ref)
	}
	if n.Data == "textarea" || attr(n, "contenteditable") == "true" {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	}
	setAttr(n, "value", value)
	d.values[node.Ref] = value
	return nil
}

func (d *Document) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	if d.reloadErr != nil {
		err := d.reloadErr
		d.reloadErr = nil
		return err
	}
	source := d.source
	if d.path != "" {
		data, err := os.ReadFile(d.path)
		if err != nil {
			return fmt.Errorf("reload document: %w", err)
		}
		source = string(data)
	}
	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return fmt.Errorf("reload document: %w", err)
	}
	d.root = root
	d.values = map[string]string{}
	return nil
}

// Replace swaps the whole document, as a navigation would.
func (d *Document) Replace(source string) error {
	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
	return nil
}

// Append parses fragment and appends it to the first element matching css.
func (d *Document) Append(css, fragment string) error {
	sel, err := cascadia.ParseGroup(css)
	if err != nil {
		return fmt.Errorf("invalid selector %q: %w", css, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	target := cascadia.Query(d.root, sel)
	if target == nil {
		return fmt.Errorf("append: no element matches %q", css)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), target)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		target.AppendChild(n)
	}
	return nil
}

// Remove detaches every element matching css.
func (d *Document) Remove(css string) error {
	sel, err := cascadia.ParseGroup(css)
	if err != nil {
		return fmt.Errorf("invalid selector %q: %w", css, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range cascadia.QueryAll(d.root, sel) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return nil
}

// Value reports the value attribute of the first element matching css.
func (d *Document) Value(css string) (string, bool) {
	sel, err := cascadia.ParseGroup(css)
	if err != nil {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := cascadia.Query(d.root, sel)
	if n == nil {
		return "", false
	}
	return attrLookup(n, "value")
}

func (d *Document) Clicks() []element.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]element.Node(nil), d.clicks...)
}

// ClickCount counts clicks on elements whose normalized text or aria-label
// equals label.
func (d *Document) ClickCount(label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	want := normalize(label)
	count := 0
	for _, c := range d.clicks {
		aria, _ := c.Attr("aria-label")
		if normalize(c.Text) == want || normalize(aria) == want {
			count++
		}
	}
	return count
}

// FailNextReload makes the next Reload return err without reloading.
func (d *Document) FailNextReload(err error) {
	d.mu.Lock()
	d.reloadErr = err
	d.mu.Unlock()
}

// Values returns the values assigned through SetValue since the last
// reload, keyed by element ref.
func (d *Document) Values() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func (d *Document) Reloads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reloads
}

func (d *Document) documentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// lookup walks a ref back to its element; nil when the page changed shape.
func (d *Document) lookup(ref string) *html.Node {
	n := d.documentElement()
	if n == nil || ref == "" {
		return nil
	}
	for _, part := range strings.Split(ref, ".") {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		n = elementChild(n, idx)
		if n == nil {
			return nil
		}
	}
	return n
}

func staleError(ref string) error {
	return fmt.Errorf("element %q is no longer attached", ref)
}
