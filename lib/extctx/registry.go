package extctx

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// EngineConfig carries the settings shared by every engine factory.
type EngineConfig struct {
	// ExecPath is the browser binary. Empty lets the engine look it up.
	ExecPath string
	// Download allows the engine to fetch a browser build when none is found.
	Download bool
}

// Factory builds an Engine.
type Factory func(EngineConfig) (Engine, error)

// Registry maps engine names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup builds the engine registered under name.
func (r *Registry) Lookup(name string, cfg EngineConfig) (Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, name)
	}
	return f(cfg)
}

// Engines returns the registered names in sorted order.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	slices.Sort(names)
	return names
}

var defaultRegistry = NewRegistry()

// Register adds f to the default registry. Engine packages call it from init.
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }

// Lookup builds an engine from the default registry.
func Lookup(name string, cfg EngineConfig) (Engine, error) { return defaultRegistry.Lookup(name, cfg) }

// Engines lists the engines of the default registry.
func Engines() []string { return defaultRegistry.Engines() }

// DefaultRegistry returns the registry used by the package level functions.
func DefaultRegistry() *Registry { return defaultRegistry }
