package engine

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gosuda/relai/internal/config"
)

// ErrUnknownBackend is returned when a requested generator backend is not
// registered.
var ErrUnknownBackend = errors.New("engine: unknown backend") //nolint:gochecknoglobals // sentinel error

// GeneratorFactory creates a Generator from engine configuration.
type GeneratorFactory func(cfg config.EngineConfig) (Generator, error)

// Registry manages generator backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]GeneratorFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]GeneratorFactory),
	}
}

// Register adds a factory for a backend name.
func (r *Registry) Register(name string, factory GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the generator for the given backend name.
func (r *Registry) Create(name string, cfg config.EngineConfig) (Generator, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("engine.Registry.Create(%q): %w", name, ErrUnknownBackend)
	}

	gen, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine.Registry.Create(%q): %w", name, err)
	}

	return gen, nil
}

// Available returns registered backend names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.factories {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}

// DefaultRegistry returns a registry with the built-in backends
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("openai", NewOpenAIGenerator)
	r.Register("local", NewLocalGenerator)
	return r
}
