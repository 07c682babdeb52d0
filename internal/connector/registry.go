package connector

import (
	"fmt"
	"sync"

	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Registry holds the registered connectors keyed by platform. It must be
// created via NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu         sync.RWMutex
	connectors map[platform.Platform]Connector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: map[platform.Platform]Connector{},
	}
}

// Register adds a connector to the registry.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("connector is nil")
	}
	p, err := platform.Parse(c.Platform().String())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[p]; exists {
		return fmt.Errorf("platform already registered: %s", p)
	}
	r.connectors[p] = c
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(c Connector) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns the connector for the given platform.
func (r *Registry) Get(p platform.Platform) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[p]
	if !ok {
		return nil, fmt.Errorf("no connector registered for platform: %s", p)
	}
	return c, nil
}

// GetSender returns the connector's write path, if it supports one.
func (r *Registry) GetSender(p platform.Platform) (Sender, error) {
	c, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	sender, ok := c.(Sender)
	if !ok {
		return nil, fmt.Errorf("platform %s does not support outbound send", p)
	}
	return sender, nil
}

// Platforms returns all registered platforms.
func (r *Registry) Platforms() []platform.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]platform.Platform, 0, len(r.connectors))
	for p := range r.connectors {
		items = append(items, p)
	}
	return items
}
