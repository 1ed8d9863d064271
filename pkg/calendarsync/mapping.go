package calendarsync

import "sync"

// MappedEvent is the event a task is synced to.
type MappedEvent struct {
	EventID    string
	Provider   string
	CalendarID string
	// Fields is what was last written to the provider.
	Fields EventFields
}

// Mapping associates task ids with their calendar events. It lives only as
// long as the session that owns it.
type Mapping struct {
	mu      sync.RWMutex
	entries map[string]MappedEvent
}

func newMapping() *Mapping {
	return &Mapping{entries: make(map[string]MappedEvent)}
}

func (m *Mapping) Get(taskID string) (MappedEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	return e, ok
}

func (m *Mapping) Set(taskID string, e MappedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[taskID] = e
}

func (m *Mapping) Remove(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, taskID)
}
