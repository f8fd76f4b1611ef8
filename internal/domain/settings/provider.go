package settings

import (
	"context"
	"sync"
)

// Provider loads and persists the operator configuration.
type Provider interface {
	Load(ctx context.Context) (Configuration, error)
	Save(ctx context.Context, cfg Configuration) error
	Clear(ctx context.Context) error
}

type InMemoryProvider struct {
	mu  sync.RWMutex
	cfg Configuration
}

func NewInMemoryProvider(initial Configuration) *InMemoryProvider {
	return &InMemoryProvider{cfg: initial}
}

func (p *InMemoryProvider) Load(_ context.Context) (Configuration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, nil
}

func (p *InMemoryProvider) Save(_ context.Context, cfg Configuration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return nil
}

func (p *InMemoryProvider) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = Configuration{}
	return nil
}
