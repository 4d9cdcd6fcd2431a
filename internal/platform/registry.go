package platform

import (
	"fmt"
	"sync"
)

// Registry holds all registered platform adapters. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Type]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	pt := ParseType(adapter.Type().String())
	if pt == "" {
		return fmt.Errorf("unsupported platform type: %s", adapter.Type())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[pt]; exists {
		return fmt.Errorf("platform already registered: %s", pt)
	}
	r.adapters[pt] = adapter
	return nil
}

// Get returns the adapter for the given platform type.
func (r *Registry) Get(platformType Type) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[platformType]
	return adapter, ok
}

// Ephemeral returns the adapter's ephemeral posting capability if present.
func (r *Registry) Ephemeral(platformType Type) (EphemeralPoster, bool) {
	adapter, ok := r.Get(platformType)
	if !ok {
		return nil, false
	}
	poster, ok := adapter.(EphemeralPoster)
	return poster, ok
}

// Reactor returns the adapter's reaction capability if present.
func (r *Registry) Reactor(platformType Type) (Reactor, bool) {
	adapter, ok := r.Get(platformType)
	if !ok {
		return nil, false
	}
	reactor, ok := adapter.(Reactor)
	return reactor, ok
}

// Subscriber returns the adapter's thread subscription capability if present.
func (r *Registry) Subscriber(platformType Type) (Subscriber, bool) {
	adapter, ok := r.Get(platformType)
	if !ok {
		return nil, false
	}
	subscriber, ok := adapter.(Subscriber)
	return subscriber, ok
}

// Deleter returns the adapter's message deletion capability if present.
func (r *Registry) Deleter(platformType Type) (Deleter, bool) {
	adapter, ok := r.Get(platformType)
	if !ok {
		return nil, false
	}
	deleter, ok := adapter.(Deleter)
	return deleter, ok
}
