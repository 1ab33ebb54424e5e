package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventResourceAdded EventType = iota
	EventStorageAreaAdded
	EventConnectorAdded
)

// Event is emitted to subscribers when a definition is added.
type Event struct {
	Type EventType
	ID   string
}

// KnowledgeBase is an in-memory, thread-safe store for the static
// definitions a simulation run is rebuilt from.
type KnowledgeBase struct {
	mu sync.RWMutex

	resources  map[string]*model.ResourceDefinition
	areas      map[string]*model.StorageAreaDefinition
	connectors map[string]*model.ConnectorDefinition

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		resources:  make(map[string]*model.ResourceDefinition),
		areas:      make(map[string]*model.StorageAreaDefinition),
		connectors: make(map[string]*model.ConnectorDefinition),
	}
}

// AddResource adds a resource definition. It returns an error if the ID
// already exists or the resource has no intervals.
func (kb *KnowledgeBase) AddResource(r *model.ResourceDefinition) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("resource definition requires an ID")
	}
	if len(r.Intervals) == 0 {
		return fmt.Errorf("resource %q has no capacity intervals", r.ID)
	}
	kb.mu.Lock()
	if _, exists := kb.resources[r.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("resource with ID %q already exists", r.ID)
	}
	kb.resources[r.ID] = r
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventResourceAdded, ID: r.ID})
	return nil
}

// AddStorageArea adds a storage area definition.
func (kb *KnowledgeBase) AddStorageArea(a *model.StorageAreaDefinition) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("storage area definition requires an ID")
	}
	kb.mu.Lock()
	if _, exists := kb.areas[a.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("storage area with ID %q already exists", a.ID)
	}
	kb.areas[a.ID] = a
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventStorageAreaAdded, ID: a.ID})
	return nil
}

// AddConnector adds a connector definition. Both endpoints must already be
// registered as storage areas.
func (kb *KnowledgeBase) AddConnector(c *model.ConnectorDefinition) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("connector definition requires an ID")
	}
	kb.mu.Lock()
	if _, exists := kb.connectors[c.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("connector with ID %q already exists", c.ID)
	}
	for _, areaID := range []string{c.FromArea, c.ToArea} {
		if areaID == "" {
			continue
		}
		if _, ok := kb.areas[areaID]; !ok {
			kb.mu.Unlock()
			return fmt.Errorf("storage area with ID %q not found for connector %q", areaID, c.ID)
		}
	}
	kb.connectors[c.ID] = c
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventConnectorAdded, ID: c.ID})
	return nil
}

// GetResource returns the resource with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetResource(id string) *model.ResourceDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.resources[id]
}

// GetStorageArea returns the storage area with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetStorageArea(id string) *model.StorageAreaDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.areas[id]
}

// GetConnector returns the connector with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetConnector(id string) *model.ConnectorDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.connectors[id]
}

// ListResources returns a snapshot of all resources ordered by ID.
func (kb *KnowledgeBase) ListResources() []*model.ResourceDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.ResourceDefinition, 0, len(kb.resources))
	for _, r := range kb.resources {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListStorageAreas returns a snapshot of all storage areas ordered by ID.
func (kb *KnowledgeBase) ListStorageAreas() []*model.StorageAreaDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.StorageAreaDefinition, 0, len(kb.areas))
	for _, a := range kb.areas {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListConnectors returns a snapshot of all connectors ordered by ID.
func (kb *KnowledgeBase) ListConnectors() []*model.ConnectorDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.ConnectorDefinition, 0, len(kb.connectors))
	for _, c := range kb.connectors {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
