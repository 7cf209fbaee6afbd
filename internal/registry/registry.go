package registry

import (
	"fmt"

	"modelarena/internal/config"
)

// Registry is the static model catalog, loaded once at startup and never
// mutated afterwards.
type Registry struct {
	byID  map[string]config.ModelEntry
	order []string
}

// New validates the configured entries and builds the registry.
func New(entries []config.ModelEntry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry requires at least one model")
	}
	r := &Registry{byID: make(map[string]config.ModelEntry, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("model entry with empty id")
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", e.ID)
		}
		r.byID[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return r, nil
}

// Get returns the entry for the id.
func (r *Registry) Get(id string) (config.ModelEntry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Has reports whether the id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns all model ids in configuration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Entries returns all entries in configuration order.
func (r *Registry) Entries() []config.ModelEntry {
	out := make([]config.ModelEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
