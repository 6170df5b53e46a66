package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/queue"
)

// TenantLimiter controls per-tenant concurrency and rate limits. The pool
// calls Acquire before admitting a dequeued job and Release once its run
// returns.
type TenantLimiter interface {
	// Acquire reports whether a job of the tenant may start now, and
	// takes a slot if so.
	Acquire(tenantID string) bool
	// Release frees a slot taken by Acquire.
	Release(tenantID string)
}

type activeRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool manages a set of concurrent worker goroutines that take batch jobs
// off the priority queue and drive them through the Runner.
type Pool struct {
	queue        *queue.PriorityQueue
	runner       *Runner
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Tenant limiter (optional).
	tenants TenantLimiter

	wake       chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]*activeRun
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle worker waits before looking at the
// queue again when nothing wakes it.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithTenantLimiter sets the per-tenant admission control.
func WithTenantLimiter(l TenantLimiter) PoolOption {
	return func(p *Pool) { p.tenants = l }
}

// NewPool creates a worker pool over q.
func NewPool(q *queue.PriorityQueue, runner *Runner, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:        q,
		runner:       runner,
		concurrency:  4,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		wake:         make(chan struct{}, 1),
		activeJobs:   make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Running reports whether the workers are started.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ActiveRuns returns the number of jobs currently being driven.
func (p *Pool) ActiveRuns() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker goroutines. It returns immediately. A stopped
// pool can be started again.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(p.stopCh)
	}
	return nil
}

// Stop signals all workers to stop taking jobs and files and waits for the
// in-flight files to finish. If ctx ends first, the active runs are
// cancelled and Stop waits for them to record where they stopped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active runs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// Notify wakes one idle worker, typically after a job was queued.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Abort cancels the active run of a job. It reports whether a run was
// active.
func (p *Pool) Abort(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	run, ok := p.activeJobs[jobID]
	if ok {
		run.cancel()
	}
	return ok
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop(stopCh chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		it, ok := p.queue.DequeueFunc(p.admit)
		if !ok {
			p.sleep(stopCh)
			continue
		}
		// Another job may be waiting; let a peer look.
		p.Notify()
		p.run(it, stopCh)
	}
}

// admit runs under the queue lock. It rejects jobs whose previous run is
// still draining and jobs of saturated tenants, and registers the run of
// an admitted job.
func (p *Pool) admit(it queue.Item) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	if _, busy := p.activeJobs[it.JobID]; busy {
		return false
	}
	if p.tenants != nil && !p.tenants.Acquire(it.TenantID) {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.activeJobs[it.JobID] = &activeRun{ctx: ctx, cancel: cancel}
	return true
}

func (p *Pool) run(it queue.Item, stopCh chan struct{}) {
	p.activeMu.Lock()
	active := p.activeJobs[it.JobID]
	p.activeMu.Unlock()

	defer func() {
		p.activeMu.Lock()
		delete(p.activeJobs, it.JobID)
		p.activeMu.Unlock()
		active.cancel()
		if p.tenants != nil {
			p.tenants.Release(it.TenantID)
		}
		// A tenant slot or a draining job just freed up.
		p.Notify()
	}()

	jobID, err := id.ParseBatchID(it.JobID)
	if err != nil {
		p.logger.Error("dequeued malformed batch id", slog.String("batch_id", it.JobID))
		return
	}

	if err := p.runner.Run(active.ctx, jobID, stopCh); err != nil {
		p.logger.Error("batch run failed",
			slog.String("batch_id", it.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep(stopCh chan struct{}) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.wake:
	case <-stopCh:
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, run := range p.activeJobs {
		p.logger.Warn("cancelling active run", slog.String("batch_id", jobID))
		run.cancel()
	}
}
