package provider

import (
	"sync"

	"github.com/projectlink/backend/internal/domain/integration"
)

// Registry implements ProviderRegistry over a fixed set of adapters
// registered at startup
type Registry struct {
	mu      sync.RWMutex
	clients map[integration.ProviderCode]integration.ProviderClient
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[integration.ProviderCode]integration.ProviderClient),
	}
}

// Register adds an adapter under its own code, replacing any previous one
func (r *Registry) Register(client integration.ProviderClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Code()] = client
}

// Get returns the adapter for the specified code
func (r *Registry) Get(code integration.ProviderCode) (integration.ProviderClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[code]
	if !ok {
		return nil, integration.ErrProviderNotRegistered
	}
	return client, nil
}

// List returns all registered adapters
func (r *Registry) List() []integration.ProviderClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]integration.ProviderClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Ensure Registry implements ProviderRegistry
var _ integration.ProviderRegistry = (*Registry)(nil)
