package automation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"automation-engine/internal/model"
)

// providerConfigs resolves each organization's provider config at most once per unit of work.
type providerConfigs struct {
	store ProviderConfigStore

	mu      sync.Mutex
	entries map[uuid.UUID]providerConfigEntry
}

type providerConfigEntry struct {
	cfg model.ProviderConfig
	err error
}

func newProviderConfigs(store ProviderConfigStore) *providerConfigs {
	return &providerConfigs{store: store, entries: make(map[uuid.UUID]providerConfigEntry)}
}

func (p *providerConfigs) get(ctx context.Context, orgID uuid.UUID) (model.ProviderConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[orgID]; ok {
		return e.cfg, e.err
	}
	cfg, err := p.store.GetProviderConfig(ctx, orgID)
	p.entries[orgID] = providerConfigEntry{cfg: cfg, err: err}
	return cfg, err
}
