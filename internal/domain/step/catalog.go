package step

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Catalog holds the known steps keyed by name.
type Catalog struct {
	mu    sync.RWMutex
	steps map[string]Descriptor
}

func NewCatalog() *Catalog {
	return &Catalog{
		steps: make(map[string]Descriptor),
	}
}

func (c *Catalog) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("step name is required")
	}
	if d.Ordinal <= 0 {
		return fmt.Errorf("step %q ordinal must be positive", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("step %q handler is required", d.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.steps[d.Name]; exists {
		return fmt.Errorf("step %q already registered", d.Name)
	}
	for _, other := range c.steps {
		if other.Ordinal == d.Ordinal {
			return fmt.Errorf("step %q reuses ordinal %d of %q", d.Name, d.Ordinal, other.Name)
		}
	}
	c.steps[d.Name] = d
	return nil
}

func (c *Catalog) Get(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.steps[name]
	return d, ok
}

// List returns descriptors in ascending ordinal order.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, len(c.steps))
	for _, d := range c.steps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}
