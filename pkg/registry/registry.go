// Package registry stores agent manifests between validations. The
// batch report path snapshots it, so a registered agent is validated
// exactly as it was registered.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrNilAgent      = errors.New("nil agent")
	ErrUnnamedAgent  = errors.New("agent has no metadata.name")
)

// Registry is the source of truth for agents under governance.
type Registry interface {
	// Register stores an agent under its metadata name, replacing any
	// previous registration.
	Register(a *manifest.Agent) error
	Get(name string) (*manifest.Agent, error)
	// List returns a snapshot sorted by name.
	List() []*manifest.Agent
	// Unregister removes an agent (e.g. on decommission).
	Unregister(name string) error
}

// InMemoryRegistry is a thread-safe in-memory implementation.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]*manifest.Agent
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		agents: make(map[string]*manifest.Agent),
	}
}

func (r *InMemoryRegistry) Register(a *manifest.Agent) error {
	if a == nil {
		return ErrNilAgent
	}
	if a.Metadata.Name == "" {
		return ErrUnnamedAgent
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Metadata.Name] = a
	return nil
}

func (r *InMemoryRegistry) Get(name string) (*manifest.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	return nil, ErrAgentNotFound
}

func (r *InMemoryRegistry) List() []*manifest.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*manifest.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Metadata.Name < list[j].Metadata.Name
	})
	return list
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return ErrAgentNotFound
	}
	delete(r.agents, name)
	return nil
}
