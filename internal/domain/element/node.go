package element

import (
	"context"
	"strings"
)

// Node is a host-independent snapshot of one DOM element.
type Node struct {
	// Ref is the host handle used to act on the element again.
	Ref string
	// Path holds child indices from the document root; it orders nodes and
	// answers containment without touching the host.
	Path    []int
	Tag     string
	Role    string
	Text    string
	Attrs   map[string]string
	Visible bool
}

func (n Node) IsZero() bool {
	return n.Ref == "" && len(n.Path) == 0
}

func (n Node) Attr(name string) (string, bool) {
	if n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[strings.ToLower(name)]
	return v, ok
}

// Contains reports whether other is a strict descendant of n.
func (n Node) Contains(other Node) bool {
	if len(other.Path) <= len(n.Path) {
		return false
	}
	for i, idx := range n.Path {
		if other.Path[i] != idx {
			return false
		}
	}
	return true
}

// Before reports whether n precedes other in document order.
func (n Node) Before(other Node) bool {
	for i := 0; i < len(n.Path) && i < len(other.Path); i++ {
		if n.Path[i] != other.Path[i] {
			return n.Path[i] < other.Path[i]
		}
	}
	return len(n.Path) < len(other.Path)
}

// Document answers native CSS queries. Implementations return matches in
// document order and must not mutate the page.
type Document interface {
	QueryAll(ctx context.Context, scope *Node, css string) ([]Node, error)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
