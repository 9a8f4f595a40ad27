package memory

import (
	"fmt"
	"sync"
)

// Registry owns the manager instances for a host process, keyed by
// (workspace, agent). It is created at plugin activation and injected into
// tool handlers instead of living in ambient package state.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
	}
}

func registryKey(workspace, agentID string) string {
	return workspace + "\x00" + agentID
}

// GetOrCreate returns the manager for cfg's (workspace, agent) pair,
// constructing it on first use.
func (r *Registry) GetOrCreate(cfg Config) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(cfg.Workspace, cfg.AgentID)
	if m, ok := r.managers[key]; ok {
		return m, nil
	}

	m, err := NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory manager: %w", err)
	}
	r.managers[key] = m
	return m, nil
}

// Get returns an existing manager, if any.
func (r *Registry) Get(workspace, agentID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[registryKey(workspace, agentID)]
	return m, ok
}

// Remove closes and forgets one manager.
func (r *Registry) Remove(workspace, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(workspace, agentID)
	m, ok := r.managers[key]
	if !ok {
		return fmt.Errorf("no manager for workspace %s agent %s", workspace, agentID)
	}
	delete(r.managers, key)
	return m.Close()
}

// CloseAll closes every manager, returning the first close error.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, m := range r.managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.managers, key)
	}
	return firstErr
}
