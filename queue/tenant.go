package queue

import (
	"golang.org/x/time/rate"
)

// TenantConfig defines rate limits and concurrency for one tenant,
// identified by the job's TenantID.
type TenantConfig struct {
	// TenantID is the tenant identifier.
	TenantID string

	// MaxConcurrency limits how many of the tenant's jobs may run at once.
	// Zero falls back to the manager's default cap.
	MaxConcurrency int

	// RateLimit is the sustained job starts per second for this tenant.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newTenantState(cfg TenantConfig) *tenantState {
	ts := &tenantState{maxConcurrency: cfg.MaxConcurrency}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// SetTenantConfig configures limits for a tenant. Calling it again for the
// same tenant replaces the previous configuration but keeps the current
// active count.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTenantState(cfg)
	if ts.maxConcurrency == 0 {
		ts.maxConcurrency = m.defaultConcurrency
	}
	if existing := m.tenants[cfg.TenantID]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[cfg.TenantID] = ts
}
