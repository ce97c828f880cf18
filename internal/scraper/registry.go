package scraper

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// ErrNoAdapter is returned for platforms without a registered adapter
var ErrNoAdapter = errors.New("no adapter registered for platform")

// Registry maps platforms to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register replaces any adapter already registered for the platform
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform domain.Platform) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, platform)
	}
	return a, nil
}

// Platforms lists registered platforms in name order
func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
