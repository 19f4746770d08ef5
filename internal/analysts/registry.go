package analysts

import (
	"fmt"
	"sync"

	"github.com/wonny/hedgefund/pkg/logger"
)

// Registry holds analysts in registration order
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Analyst
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Analyst)}
}

// Register adds a. Duplicate ids are rejected.
func (r *Registry) Register(a Analyst) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[a.ID()]; ok {
		return fmt.Errorf("analyst %s already registered", a.ID())
	}
	r.byID[a.ID()] = a
	r.order = append(r.order, a.ID())
	return nil
}

// Get returns the analyst with id
func (r *Registry) Get(id string) (Analyst, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// IDs returns ids in registration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Select resolves ids to analysts. Empty ids selects everything in registration order.
func (r *Registry) Select(ids []string) ([]Analyst, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		out := make([]Analyst, 0, len(r.order))
		for _, id := range r.order {
			out = append(out, r.byID[id])
		}
		return out, nil
	}

	seen := make(map[string]bool, len(ids))
	out := make([]Analyst, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		a, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown analyst %q", id)
		}
		seen[id] = true
		out = append(out, a)
	}
	return out, nil
}

// NewDefaultRegistry registers every built-in analyst
func NewDefaultRegistry(cfg *Config, log *logger.Logger, opts ...Option) *Registry {
	r := NewRegistry()
	for _, a := range []Analyst{
		NewTechnical(cfg, log, opts...),
		NewFundamentals(cfg, log, opts...),
		NewValuation(cfg, log, opts...),
		NewSentiment(cfg, log, opts...),
		NewGrowth(cfg, log, opts...),
		NewMomentum(cfg, log, opts...),
	} {
		_ = r.Register(a)
	}
	return r
}
