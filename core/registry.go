package core

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type registeredComponent struct {
	agent       *ComponentAgent
	unsubscribe func()
}

// ComponentRegistry maps component app ids to their agents and re-publishes
// every component event on its own bus.
type ComponentRegistry struct {
	bus *EventBus

	mu         sync.RWMutex
	components map[string]registeredComponent
}

func NewComponentRegistry(bus *EventBus) *ComponentRegistry {
	if bus == nil {
		bus = NewEventBus(nil)
	}
	return &ComponentRegistry{
		bus:        bus,
		components: map[string]registeredComponent{},
	}
}

func (r *ComponentRegistry) Bus() *EventBus {
	return r.bus
}

func (r *ComponentRegistry) Register(agent *ComponentAgent) error {
	if agent == nil {
		return badInputError("core: component agent is required", nil)
	}
	appID := agent.AppID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[appID]; exists {
		return DuplicateComponentError(appID)
	}
	entry := registeredComponent{agent: agent, unsubscribe: func() {}}
	if agent.Bus() != r.bus {
		entry.unsubscribe = agent.Bus().SubscribeAll(func(ctx context.Context, event Event) {
			r.bus.Publish(ctx, event)
		})
	}
	r.components[appID] = entry
	return nil
}

func (r *ComponentRegistry) Lookup(appID string) (*ComponentAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.components[strings.TrimSpace(appID)]
	return entry.agent, ok
}

// Get is Lookup returning UnknownTenantError for unregistered ids.
func (r *ComponentRegistry) Get(appID string) (*ComponentAgent, error) {
	agent, ok := r.Lookup(appID)
	if !ok {
		return nil, UnknownTenantError(appID)
	}
	return agent, nil
}

// Remove stops and forgets a component.
func (r *ComponentRegistry) Remove(appID string) bool {
	r.mu.Lock()
	entry, ok := r.components[strings.TrimSpace(appID)]
	delete(r.components, strings.TrimSpace(appID))
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.agent.Stop()
	entry.unsubscribe()
	return true
}

func (r *ComponentRegistry) List() []*ComponentAgent {
	r.mu.RLock()
	out := make([]*ComponentAgent, 0, len(r.components))
	for _, entry := range r.components {
		out = append(out, entry.agent)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AppID() < out[j].AppID() })
	return out
}

func (r *ComponentRegistry) StopAll() {
	for _, agent := range r.List() {
		r.Remove(agent.AppID())
	}
}
