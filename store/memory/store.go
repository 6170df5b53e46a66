// Package memory implements job.Store in process memory.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// record guards a single job. Holding mu serializes updates to that job
// while other jobs stay writable.
type record struct {
	mu      sync.Mutex
	job     *job.Job
	deleted bool
}

// Store is a fully in-memory implementation of job.Store. Jobs are copied
// on the way in and on the way out, so callers never observe a partial
// write. Safe for concurrent access.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*record)}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Len returns the number of stored jobs.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return docbatch.ErrJobAlreadyExists
	}
	m.jobs[key] = &record{job: j.Clone()}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.BatchID) (*job.Job, error) {
	rec := m.lookup(jobID)
	if rec == nil {
		return nil, docbatch.ErrJobNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, docbatch.ErrJobNotFound
	}
	return rec.job.Clone(), nil
}

// ListJobs returns copies of the jobs matching opts, ordered and paginated.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.jobs))
	for _, rec := range m.jobs {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	result := make([]*job.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.deleted && opts.Match(rec.job) {
			result = append(result, rec.job.Clone())
		}
		rec.mu.Unlock()
	}

	sortJobs(result, opts.SortBy, opts.Order)
	return paginate(result, opts.Offset, opts.Limit), nil
}

// UpdateJob runs fn against a copy of the job under the job's lock and
// commits the copy only if fn succeeds.
func (m *Store) UpdateJob(_ context.Context, jobID id.BatchID, fn job.MutateFunc) (*job.Job, error) {
	rec := m.lookup(jobID)
	if rec == nil {
		return nil, docbatch.ErrJobNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, docbatch.ErrJobNotFound
	}

	next := rec.job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Recount()
	if !next.UpdatedAt.After(rec.job.UpdatedAt) {
		next.Touch(time.Now().UTC())
	}
	rec.job = next
	return next.Clone(), nil
}

// DeleteJob removes a job. Queued or processing jobs require force.
func (m *Store) DeleteJob(_ context.Context, jobID id.BatchID, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	rec, ok := m.jobs[key]
	if !ok {
		return docbatch.ErrJobNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.IsActive() && !force {
		return docbatch.ErrJobActive
	}
	rec.deleted = true
	delete(m.jobs, key)
	return nil
}

func (m *Store) lookup(jobID id.BatchID) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID.String()]
}

// ──────────────────────────────────────────────────
// Ordering helpers
// ──────────────────────────────────────────────────

func sortJobs(jobs []*job.Job, field job.SortField, order job.SortOrder) {
	desc := order != job.OrderAsc
	slices.SortStableFunc(jobs, func(a, b *job.Job) int {
		c := compareField(a, b, field)
		if c == 0 {
			c = cmp.Compare(a.ID.String(), b.ID.String())
		}
		if desc {
			return -c
		}
		return c
	})
}

func compareField(a, b *job.Job, field job.SortField) int {
	switch field {
	case job.SortByPriority:
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	case job.SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case job.SortByQueuedAt:
		return compareTimes(a.QueuedAt, b.QueuedAt)
	case job.SortByStartedAt:
		return compareTimes(a.StartedAt, b.StartedAt)
	case job.SortByCompletedAt:
		return compareTimes(a.CompletedAt, b.CompletedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// compareTimes orders unset timestamps before set ones.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

func paginate(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return []*job.Job{}
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
