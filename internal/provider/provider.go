// Package provider abstracts the model backends that perform entity
// extraction.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/IgnatG/langextract-api/internal/extraction"
)

// Request is a single extraction invocation against one model.
type Request struct {
	Text          string
	Prompt        string
	Examples      []extraction.Example
	Model         string
	Temperature   float64
	MaxCharBuffer int
}

// Provider is the extraction capability backed by one model vendor.
type Provider interface {
	// ID is the model identifier this provider answers for.
	ID() string
	// Extract runs one extraction pass. Implementations must respect
	// ctx cancellation and return errors through the standard taxonomy
	// so the worker layer can tell transient from fatal.
	Extract(ctx context.Context, req Request) (extraction.Result, error)
}

// Registry holds the providers available to the orchestrator. It is
// built once at startup and passed in explicitly; there is no ambient
// global registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its ID, replacing any previous
// registration for the same ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider for a model ID.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("no provider registered for model %q", id)
	}
	return p, nil
}

// IDs returns the registered model IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
