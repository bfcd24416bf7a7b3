package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is a name→adapter map populated at startup. A provider whose
// required credentials are absent from configuration is simply not
// registered (logged as a warning) rather than failing startup — spec §9's
// "polymorphism over providers" design note.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Connector)}
}

// Register adds an adapter under slug. Called once per provider at
// startup, after config has decided the provider has what it needs.
func (r *Registry) Register(slug string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[slug] = c
}

// Skip logs that a provider was not registered due to missing credentials.
func (r *Registry) Skip(slug, reason string) {
	log.Warn().Str("provider_slug", slug).Str("reason", reason).
		Msg("provider adapter not registered, disabled")
}

// ErrProviderNotFound is returned by Get for an unregistered slug.
type ErrProviderNotFound struct {
	Slug string
}

func (e ErrProviderNotFound) Error() string {
	return fmt.Sprintf("connector: provider %q not found", e.Slug)
}

// Get returns the adapter registered for slug.
func (r *Registry) Get(slug string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.adapters[slug]
	if !ok {
		return nil, ErrProviderNotFound{Slug: slug}
	}
	return c, nil
}

// Slugs returns the registered provider slugs, sorted, for diagnostics.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
