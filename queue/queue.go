package queue

import "sync"

// Manager gates job admission per tenant. Each tenant has an optional
// concurrency cap and an optional token-bucket rate limit. It is safe for
// concurrent use.
type Manager struct {
	mu                 sync.Mutex
	defaultConcurrency int
	tenants            map[string]*tenantState
}

// NewManager creates a Manager. defaultConcurrency caps tenants that have
// no explicit TenantConfig; zero leaves them uncapped. The anonymous
// tenant ("") is never capped.
func NewManager(defaultConcurrency int, configs ...TenantConfig) *Manager {
	m := &Manager{
		defaultConcurrency: defaultConcurrency,
		tenants:            make(map[string]*tenantState, len(configs)),
	}
	for _, cfg := range configs {
		m.SetTenantConfig(cfg)
	}
	return m
}

// Acquire checks the concurrency cap and rate limit for tenantID. If the
// job may start it increments the active counter and returns true. The
// caller MUST call Release when the job's run ends.
func (m *Manager) Acquire(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.state(tenantID)
	if tenantID != "" {
		if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
			return false
		}
		// Concurrency first, so a capped tenant does not burn tokens.
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
	}
	ts.active++
	return true
}

// Release decrements the active count for tenantID.
func (m *Manager) Release(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// ActiveCount returns the number of running jobs for tenantID.
func (m *Manager) ActiveCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}

// TotalActive returns the number of running jobs across all tenants.
func (m *Manager) TotalActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ts := range m.tenants {
		n += ts.active
	}
	return n
}

// state returns the tenant's runtime state, creating it with the default
// cap on first use. Caller holds m.mu.
func (m *Manager) state(tenantID string) *tenantState {
	ts := m.tenants[tenantID]
	if ts == nil {
		ts = &tenantState{maxConcurrency: m.defaultConcurrency}
		m.tenants[tenantID] = ts
	}
	return ts
}
