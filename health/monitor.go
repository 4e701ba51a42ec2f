package health

import (
	"sort"
	"sync"
)

// Check reports the current status of one component.
type Check func() Status

// Monitor polls registered component checks on demand. Components keep their
// own state; the monitor only knows how to ask them.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for a named component. A nil check
// removes it.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check == nil {
		delete(m.checks, name)
		return
	}
	m.checks[name] = check
}

// Remove stops monitoring a component.
func (m *Monitor) Remove(name string) {
	m.Register(name, nil)
}

// Get runs the check of one component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, ok := m.checks[name]
	m.mu.RUnlock()

	if !ok {
		return Status{}, false
	}
	return m.run(name, check), true
}

// ListComponents returns the monitored component names in sorted order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// AggregateHealth runs every check and combines the results under
// systemName. Checks run without the lock held.
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.ListComponents()

	subStatuses := make([]Status, 0, len(names))
	for _, name := range names {
		if status, ok := m.Get(name); ok {
			subStatuses = append(subStatuses, status)
		}
	}
	return Aggregate(systemName, subStatuses)
}

func (m *Monitor) run(name string, check Check) Status {
	status := check()
	status.Component = name
	return status
}
