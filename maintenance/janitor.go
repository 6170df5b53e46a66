// Package maintenance removes aged terminal batch jobs and computes
// service statistics. The Janitor can also sweep on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/job"
)

// QueueDepth reports how many jobs are waiting. *queue.PriorityQueue
// satisfies it.
type QueueDepth interface {
	Len() int
}

// TenantStats counts one tenant's jobs.
type TenantStats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
}

// Stats is a point-in-time view of the scheduler's jobs.
type Stats struct {
	TotalJobs  int `json:"total_jobs"`
	ActiveJobs int `json:"active_jobs"`
	QueueDepth int `json:"queue_depth"`

	ByStatus map[job.Status]int `json:"by_status"`
	// ByPriority counts queued jobs only.
	ByPriority map[job.Priority]int   `json:"by_priority"`
	ByTenant   map[string]TenantStats `json:"by_tenant"`

	FilesTotal     int `json:"files_total"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// WithExtensions sets the registry that receives BatchDeleted events.
func WithExtensions(r *ext.Registry) Option {
	return func(j *Janitor) { j.extensions = r }
}

// WithQueue sets the queue whose length is reported as QueueDepth.
func WithQueue(q QueueDepth) Option {
	return func(j *Janitor) { j.queue = q }
}

// WithRetention sets the age after which the periodic sweep deletes
// terminal jobs. Zero disables the sweep.
func WithRetention(d time.Duration) Option {
	return func(j *Janitor) { j.retention = d }
}

// WithSchedule sets the cron expression of the periodic sweep.
func WithSchedule(expr string) Option {
	return func(j *Janitor) { j.schedule = expr }
}

// Janitor deletes aged terminal jobs and computes Stats.
type Janitor struct {
	store      job.Store
	extensions *ext.Registry
	queue      QueueDepth
	logger     *slog.Logger
	retention  time.Duration
	schedule   string
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewJanitor creates a Janitor over store.
func NewJanitor(store job.Store, opts ...Option) *Janitor {
	j := &Janitor{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.extensions == nil {
		j.extensions = ext.NewRegistry(j.logger)
	}
	return j
}

// Cleanup deletes terminal jobs that completed more than maxAge ago and
// returns how many were deleted. Jobs that are not terminal are never
// touched.
func (j *Janitor) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge < 0 {
		return 0, fmt.Errorf("%w: max age must not be negative", docbatch.ErrValidation)
	}
	cutoff := j.now().Add(-maxAge)

	jobs, err := j.store.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, b := range jobs {
		if !b.Status.IsTerminal() || b.CompletedAt == nil || !b.CompletedAt.Before(cutoff) {
			continue
		}
		if err := j.store.DeleteJob(ctx, b.ID, false); err != nil {
			if errors.Is(err, docbatch.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
		j.extensions.EmitBatchDeleted(ctx, b)
	}

	if deleted > 0 {
		j.logger.Info("cleaned up batch jobs",
			slog.Int("deleted", deleted),
			slog.Duration("max_age", maxAge),
		)
	}
	return deleted, nil
}

// Stats computes statistics over every stored job.
func (j *Janitor) Stats(ctx context.Context) (Stats, error) {
	jobs, err := j.store.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		TotalJobs:  len(jobs),
		ByStatus:   make(map[job.Status]int),
		ByPriority: make(map[job.Priority]int),
		ByTenant:   make(map[string]TenantStats),
	}
	queued := 0
	for _, b := range jobs {
		s.ByStatus[b.Status]++
		s.FilesTotal += b.TotalFiles
		s.FilesProcessed += b.ProcessedFiles
		s.FilesFailed += b.FailedFiles

		ts := s.ByTenant[b.TenantID]
		ts.Total++
		switch b.Status {
		case job.StatusQueued:
			queued++
			s.ByPriority[b.Priority]++
			ts.Queued++
		case job.StatusProcessing:
			ts.Processing++
		}
		if b.Status.IsActive() {
			s.ActiveJobs++
			ts.Active++
		}
		s.ByTenant[b.TenantID] = ts
	}

	s.QueueDepth = queued
	if j.queue != nil {
		s.QueueDepth = j.queue.Len()
	}
	return s, nil
}

// Start launches the periodic sweep. It is a no-op when already running
// or when no retention or schedule is configured.
func (j *Janitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	if j.retention <= 0 || j.schedule == "" {
		j.logger.Debug("periodic cleanup disabled")
		return nil
	}
	sched, err := ParseSchedule(j.schedule)
	if err != nil {
		return fmt.Errorf("%w: cleanup schedule %q: %v", docbatch.ErrValidation, j.schedule, err)
	}

	j.running = true
	j.stopCh = make(chan struct{})
	j.wg.Add(1)
	go j.sweepLoop(sched, j.stopCh)

	j.logger.Info("cleanup sweep started",
		slog.String("schedule", j.schedule),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish.
func (j *Janitor) Stop(_ context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	close(j.stopCh)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("cleanup sweep stopped")
	return nil
}

func (j *Janitor) sweepLoop(sched cronlib.Schedule, stopCh chan struct{}) {
	defer j.wg.Done()

	for {
		timer := time.NewTimer(time.Until(sched.Next(time.Now())))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.Cleanup(context.Background(), j.retention); err != nil {
				j.logger.Error("cleanup sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
