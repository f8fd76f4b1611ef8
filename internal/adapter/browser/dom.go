package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/roushou/adpilot/internal/domain/element"
)

var errStale = errors.New("element is no longer attached")

// queryScript returns every element under the scope path that matches css,
// in document order, as plain data. It reads the page and never writes it.
const queryScript = `(function(css, scopePath) {
  const root = document.documentElement;
  const walk = (path) => {
    let el = root;
    for (const i of path) {
      if (!el) return null;
      el = el.children[i];
    }
    return el || null;
  };
  const base = scopePath === null ? root : walk(scopePath);
  if (!base) return [];
  const pathOf = (el) => {
    const out = [];
    while (el && el !== root) {
      const parent = el.parentElement;
      if (!parent) return null;
      out.unshift(Array.prototype.indexOf.call(parent.children, el));
      el = parent;
    }
    return out;
  };
  const visible = (el) => {
    if (!el.isConnected) return false;
    const style = getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden') return false;
    return el.getClientRects().length > 0;
  };
  return Array.from(base.querySelectorAll(css)).map((el) => {
    const attrs = {};
    for (const a of el.attributes) attrs[a.name.toLowerCase()] = a.value;
    if (typeof el.checked === 'boolean') {
      if (el.checked) attrs.checked = ''; else delete attrs.checked;
    }
    return {
      path: pathOf(el),
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.textContent || '').trim(),
      attrs: attrs,
      visible: visible(el),
    };
  }).filter((n) => n.path !== null);
})(%s, %s)`

// setValueScript assigns through the native setter so framework-controlled
// inputs observe the change, then fires input and change.
const setValueScript = `(function(el, value) {
  if (!el) return false;
  el.focus();
  if (el.isContentEditable) {
    el.textContent = value;
  } else {
    const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
      : el instanceof HTMLSelectElement ? HTMLSelectElement.prototype
      : HTMLInputElement.prototype;
    const desc = Object.getOwnPropertyDescriptor(proto, 'value');
    if (desc && desc.set) desc.set.call(el, value); else el.value = value;
  }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  el.blur();
  return true;
})(%s, %s)`

type rawNode struct {
	Path    []int             `json:"path"`
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
}

func (h *Host) QueryAll(ctx context.Context, scope *element.Node, css string) ([]element.Node, error) {
	scopeArg := "null"
	if scope != nil {
		scopeArg = jsonEncode(scope.Path)
	}
	var raw []rawNode
	err := h.run(ctx, "query", chromedp.Evaluate(fmt.Sprintf(queryScript, jsonEncode(css), scopeArg), &raw, evalParams))
	if err != nil {
		return nil, err
	}
	return toNodes(raw), nil
}

func (h *Host) ScrollIntoView(ctx context.Context, node element.Node) error {
	if len(node.Path) == 0 {
		return wrap("scroll", errStale, false)
	}
	return h.run(ctx, "scroll", chromedp.ScrollIntoView(jsPath(node.Path), chromedp.ByJSPath))
}

func (h *Host) Click(ctx context.Context, node element.Node) error {
	if len(node.Path) == 0 {
		return wrap("click", errStale, false)
	}
	return h.run(ctx, "click", chromedp.Click(jsPath(node.Path), chromedp.ByJSPath))
}

func (h *Host) SetValue(ctx context.Context, node element.Node, value string) error {
	if len(node.Path) == 0 {
		return wrap("set_value", errStale, false)
	}
	var ok bool
	script := fmt.Sprintf(setValueScript, jsPath(node.Path), jsonEncode(value))
	if err := h.run(ctx, "set_value", chromedp.Evaluate(script, &ok, evalParams)); err != nil {
		return err
	}
	if !ok {
		return wrap("set_value", errStale, false)
	}
	return nil
}

func (h *Host) Reload(ctx context.Context) error {
	return h.run(ctx, "reload",
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func evalParams(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
}

func toNodes(raw []rawNode) []element.Node {
	out := make([]element.Node, 0, len(raw))
	for _, r := range raw {
		attrs := r.Attrs
		if attrs == nil {
			attrs = map[string]string{}
		}
		out = append(out, element.Node{
			Ref:     ref(r.Path),
			Path:    r.Path,
			Tag:     r.Tag,
			Role:    attrs["role"],
			Text:    r.Text,
			Attrs:   attrs,
			Visible: r.Visible,
		})
	}
	return out
}

// jsPath renders an element path as a JS expression for chromedp.ByJSPath.
func jsPath(path []int) string {
	var b strings.Builder
	b.WriteString("document.documentElement")
	for _, idx := range path {
		b.WriteString(".children[")
		b.WriteString(strconv.Itoa(idx))
		b.WriteString("]")
	}
	return b.String()
}

func ref(path []int) string {
	parts := make([]string, len(path))
	for i, idx := range path {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

func jsonEncode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
