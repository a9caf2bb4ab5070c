package provider

import (
	"errors"
	"fmt"
	"sync"

	"multisearch/internal/models"
)

// ErrDuplicateProvider indicates an attempt to register the same id twice.
var ErrDuplicateProvider = errors.New("provider already registered")

// unavailableReason is what callers see when a provider has no credentials.
const unavailableReason = "API key not configured"

// Registry holds the adapters in registration order. It is long-lived;
// credential freshness is obtained through Reload, not reconstruction.
type Registry struct {
	mu    sync.RWMutex
	order []Adapter
	byID  map[string]Adapter
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]Adapter),
	}
}

// Register adds an adapter. Registration order is the order List and IDs
// report providers in.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("adapter must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, a.ID())
	}
	r.byID[a.ID()] = a
	r.order = append(r.order, a)
	return nil
}

// Resolve looks an adapter up by its stable id. A missing id is a normal
// outcome, reported through the boolean.
func (r *Registry) Resolve(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	return a, ok
}

// IDs returns the registered provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	for i, a := range r.order {
		ids[i] = a.ID()
	}
	return ids
}

// List reports every provider with freshly computed availability.
// Availability is never cached across calls: credentials can change
// between requests.
func (r *Registry) List() []models.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]models.ProviderInfo, 0, len(r.order))
	for _, a := range r.order {
		info := models.ProviderInfo{
			ID:        a.ID(),
			Name:      a.Name(),
			Models:    a.Models(),
			Available: a.Available(),
		}
		if !info.Available {
			info.Reason = unavailableReason
		}
		infos = append(infos, info)
	}
	return infos
}

// Reload asks every adapter that supports it to re-read its credentials
// from the environment. Called by the server before each request so the
// freshness contract is explicit.
func (r *Registry) Reload() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.order {
		if cr, ok := a.(CredentialReloader); ok {
			cr.ReloadCredentials()
		}
	}
}
