package adapters

import (
	"sync"

	"github.com/smallbiznis/memberhub/internal/payment/domain"
)

// Registry resolves a provider implementation by its enum key. Providers are
// built lazily on first use and reused afterwards.
type Registry struct {
	cfg       domain.ProviderConfig
	factories map[domain.Provider]domain.ProviderFactory

	mu        sync.Mutex
	providers map[domain.Provider]domain.PaymentProvider
}

func NewRegistry(cfg domain.ProviderConfig, factories ...domain.ProviderFactory) *Registry {
	registry := &Registry{
		cfg:       cfg,
		factories: map[domain.Provider]domain.ProviderFactory{},
		providers: map[domain.Provider]domain.PaymentProvider{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name, ok := domain.ParseProvider(string(factory.Provider()))
		if !ok {
			continue
		}
		registry.factories[name] = factory
	}
	return registry
}

// Get returns the provider for the given key ("stripe", "ADMIN", ...).
func (r *Registry) Get(provider string) (domain.PaymentProvider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name, ok := domain.ParseProvider(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.providers[name]; ok {
		return existing, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	created, err := factory.NewProvider(r.cfg)
	if err != nil {
		return nil, err
	}
	r.providers[name] = created
	return created, nil
}
