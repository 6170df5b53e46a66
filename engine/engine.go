// Package engine wires the docbatch subsystems together and exposes the
// inbound batch API: create, queue, inspect, pause, resume, cancel and
// delete batch jobs, plus the processor lifecycle.
//
// This package exists to break the import cycle: the root docbatch package
// defines the shared errors and Entity (imported by job, progress, etc.)
// and so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/backoff"
	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/journal"
	"github.com/xraph/docbatch/maintenance"
	mw "github.com/xraph/docbatch/middleware"
	"github.com/xraph/docbatch/observability"
	"github.com/xraph/docbatch/progress"
	"github.com/xraph/docbatch/queue"
	"github.com/xraph/docbatch/scope"
	"github.com/xraph/docbatch/store/memory"
	"github.com/xraph/docbatch/worker"
)

const instrumentationName = "github.com/xraph/docbatch"

// QueueOptions modifies QueueBatchJob and ResumeBatchJob.
type QueueOptions struct {
	// Priority overrides the job's priority when set.
	Priority job.Priority
}

// DeleteOptions modifies DeleteBatchJob.
type DeleteOptions struct {
	// Force allows deleting a queued or processing job. A running job's
	// in-flight calls are aborted.
	Force bool
}

// ServiceStats combines job statistics with the processor state.
type ServiceStats struct {
	maintenance.Stats

	ProcessorRunning bool   `json:"processor_running"`
	WorkerID         string `json:"worker_id"`
	Concurrency      int    `json:"concurrency"`
	ActiveRuns       int    `json:"active_runs"`
}

// Engine is the batch scheduler.
type Engine struct {
	config     docbatch.Config
	logger     *slog.Logger
	extensions *ext.Registry
	store      job.Store
	queue      *queue.PriorityQueue
	tenants    *queue.Manager
	tracker    *progress.Tracker
	pool       *worker.Pool
	janitor    *maintenance.Janitor
	history    journal.Reader

	bo            backoff.Strategy
	mws           []mw.Middleware
	tenantConfigs []queue.TenantConfig
	pending       []ext.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// lifecycle serializes StartProcessor and StopProcessor.
	lifecycle sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg docbatch.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithStore sets the job store. The default is an in-memory store.
func WithStore(s job.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithExtension registers an extension with the engine. Extensions are
// notified in registration order, after the built-in metrics extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware adds middleware to the file processing chain. It runs
// inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the delay strategy between file retries.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTenantConfig registers per-tenant concurrency caps and rate limits.
// Tenants not listed use Config.DefaultTenantConcurrency.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(eng *Engine) { eng.tenantConfigs = append(eng.tenantConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithJournal records every batch transition to w. When w can also be
// read, BatchJobHistory replays from it.
func WithJournal(w journal.Writer) Option {
	return func(eng *Engine) {
		eng.pending = append(eng.pending, journal.NewExtension(w))
		if r, ok := w.(journal.Reader); ok {
			eng.history = r
		}
	}
}

// New creates an Engine that hands every file to processor. The processor
// is not started; call StartProcessor.
func New(processor worker.Processor, opts ...Option) (*Engine, error) {
	if processor == nil {
		return nil, fmt.Errorf("%w: a processor is required", docbatch.ErrValidation)
	}

	eng := &Engine{
		config: docbatch.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if err := eng.config.Validate(); err != nil {
		return nil, err
	}
	if eng.config.DefaultPriority != "" {
		if _, err := job.ParsePriority(eng.config.DefaultPriority); err != nil {
			return nil, err
		}
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.store == nil {
		eng.store = memory.New()
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	logger := eng.logger
	eng.extensions = ext.NewRegistry(logger)

	// Register the observability metrics extension first so user
	// extensions see the same ordering on every hook.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
	eng.pending = nil

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(eng.config.FileTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.queue = queue.NewPriorityQueue()
	eng.tenants = queue.NewManager(eng.config.DefaultTenantConcurrency, eng.tenantConfigs...)
	eng.tracker = progress.NewTracker(eng.store, logger)

	executor := worker.NewExecutor(processor, eng.bo, eng.config.FileRetries, logger, allMws...)
	runner := worker.NewRunner(eng.store, eng.tracker, executor, eng.extensions, eng.config.FileConcurrency, logger)
	eng.pool = worker.NewPool(eng.queue, runner, logger,
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithTenantLimiter(eng.tenants),
	)

	eng.janitor = maintenance.NewJanitor(eng.store,
		maintenance.WithLogger(logger),
		maintenance.WithExtensions(eng.extensions),
		maintenance.WithQueue(eng.queue),
		maintenance.WithRetention(eng.config.RetentionPeriod),
		maintenance.WithSchedule(eng.config.CleanupSchedule),
	)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Batch jobs
// ──────────────────────────────────────────────────

// CreateBatchJob validates req and stores a new job in the created state.
// Tenant and user default to the scope carried by ctx. With AutoQueue the
// job is queued through the same path as QueueBatchJob.
func (eng *Engine) CreateBatchJob(ctx context.Context, req job.CreateRequest) (*job.Job, error) {
	tenantID, userID := scope.Capture(ctx)
	if req.TenantID == "" {
		req.TenantID = tenantID
	}
	if req.UserID == "" {
		req.UserID = userID
	}

	j, err := job.New(req, job.Limits{
		MaxFiles:        eng.config.MaxFilesPerJob,
		DefaultPriority: job.Priority(eng.config.DefaultPriority),
	})
	if err != nil {
		return nil, err
	}
	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Info("batch created",
		slog.String("batch_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.Int("files", j.TotalFiles),
		slog.String("priority", string(j.Priority)),
	)
	eng.extensions.EmitBatchCreated(ctx, j)

	if req.AutoQueue {
		return eng.QueueBatchJob(ctx, j.ID, QueueOptions{})
	}
	return j, nil
}

// QueueBatchJob moves a created job into the priority queue. Queueing a job
// that is already queued is a no-op, except that a priority override moves
// it to the back of its new tier.
func (eng *Engine) QueueBatchJob(ctx context.Context, jobID id.BatchID, opts QueueOptions) (*job.Job, error) {
	if err := validatePriority(opts.Priority); err != nil {
		return nil, err
	}

	var already, reprioritized bool
	j, err := eng.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		already, reprioritized = false, false
		if j.Status == job.StatusQueued {
			already = true
			if opts.Priority != "" && opts.Priority != j.Priority {
				j.Priority = opts.Priority
				reprioritized = true
			}
			return nil
		}
		if j.Status != job.StatusCreated {
			return fmt.Errorf("%w: cannot queue a %s batch job", docbatch.ErrInvalidTransition, j.Status)
		}
		if err := j.Transition(job.StatusQueued, time.Now().UTC()); err != nil {
			return err
		}
		if opts.Priority != "" {
			j.Priority = opts.Priority
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A queued job may already be dequeued and waiting for its run to
	// start; only an entry still in the queue is moved.
	switch {
	case reprioritized:
		if eng.queue.Remove(j.ID.String()) {
			eng.queue.Enqueue(queueItem(j))
		}
		eng.logger.Info("batch reprioritized",
			slog.String("batch_id", j.ID.String()),
			slog.String("priority", string(j.Priority)),
		)
	case already:
		return j, nil
	default:
		eng.logger.Info("batch queued",
			slog.String("batch_id", j.ID.String()),
			slog.String("priority", string(j.Priority)),
		)
		// Emit before the job becomes visible to workers so hooks observe
		// queued ahead of started.
		eng.extensions.EmitBatchQueued(ctx, j)
		eng.queue.Enqueue(queueItem(j))
	}
	eng.pool.Notify()
	return j, nil
}

// GetBatchJob returns a snapshot of a job.
func (eng *Engine) GetBatchJob(ctx context.Context, jobID id.BatchID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListBatchJobs returns the jobs matching opts.
func (eng *Engine) ListBatchJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", docbatch.ErrValidation, opts.Status)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", docbatch.ErrValidation)
	}
	return eng.store.ListJobs(ctx, opts)
}

// ListBatchJobsForTenant returns the tenant's jobs matching opts.
func (eng *Engine) ListBatchJobsForTenant(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	opts.TenantID = tenantID
	return eng.ListBatchJobs(ctx, opts)
}

// ListBatchJobsForUser returns the user's jobs matching opts.
func (eng *Engine) ListBatchJobsForUser(ctx context.Context, userID string, opts job.ListOpts) ([]*job.Job, error) {
	opts.UserID = userID
	return eng.ListBatchJobs(ctx, opts)
}

// CancelBatchJob cancels a queued, processing or paused job. A queued job
// leaves the queue and never starts. Files already in flight finish their
// call but their outcome is discarded.
func (eng *Engine) CancelBatchJob(ctx context.Context, jobID id.BatchID) (*job.Job, error) {
	var from job.Status
	j, err := eng.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		from = j.Status
		if err := j.Transition(job.StatusCancelled, time.Now().UTC()); err != nil {
			return err
		}
		j.Summary = j.BuildSummary()
		return nil
	})
	if err != nil {
		return nil, err
	}
	eng.queue.Remove(jobID.String())

	eng.logger.Info("batch cancelled",
		slog.String("batch_id", j.ID.String()),
		slog.String("from", string(from)),
	)
	eng.extensions.EmitBatchCancelled(ctx, j, from)
	return j, nil
}

// PauseBatchJob pauses a processing job. Files in flight finish; no new
// file starts until the job is resumed.
func (eng *Engine) PauseBatchJob(ctx context.Context, jobID id.BatchID) (*job.Job, error) {
	j, err := eng.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return fmt.Errorf("%w: cannot pause a %s batch job", docbatch.ErrInvalidTransition, j.Status)
		}
		if err := j.Transition(job.StatusPaused, time.Now().UTC()); err != nil {
			return err
		}
		j.PauseReason = job.PauseRequested
		return nil
	})
	if err != nil {
		return nil, err
	}

	eng.logger.Info("batch paused",
		slog.String("batch_id", j.ID.String()),
		slog.Int("processed", j.ProcessedFiles),
		slog.Int("total", j.TotalFiles),
	)
	eng.extensions.EmitBatchPaused(ctx, j)
	return j, nil
}

// ResumeBatchJob re-queues a paused job. Processing continues from the
// files still pending.
func (eng *Engine) ResumeBatchJob(ctx context.Context, jobID id.BatchID, opts QueueOptions) (*job.Job, error) {
	if err := validatePriority(opts.Priority); err != nil {
		return nil, err
	}
	j, err := eng.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		return resume(j, opts.Priority, "")
	})
	if err != nil {
		return nil, err
	}
	eng.requeueResumed(ctx, j)
	return j, nil
}

// DeleteBatchJob removes a job. Active jobs require Force; a forced delete
// of a running job aborts its in-flight calls.
func (eng *Engine) DeleteBatchJob(ctx context.Context, jobID id.BatchID, opts DeleteOptions) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := eng.store.DeleteJob(ctx, jobID, opts.Force); err != nil {
		return err
	}

	eng.queue.Remove(jobID.String())
	aborted := eng.pool.Abort(jobID.String())

	eng.logger.Info("batch deleted",
		slog.String("batch_id", jobID.String()),
		slog.String("status", string(j.Status)),
		slog.Bool("aborted", aborted),
	)
	eng.extensions.EmitBatchDeleted(ctx, j)
	return nil
}

// CleanupBatchJobs deletes terminal jobs that completed more than maxAge
// ago and returns how many were removed.
func (eng *Engine) CleanupBatchJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	return eng.janitor.Cleanup(ctx, maxAge)
}

// GetServiceStats returns job statistics and the processor state.
func (eng *Engine) GetServiceStats(ctx context.Context) (ServiceStats, error) {
	st, err := eng.janitor.Stats(ctx)
	if err != nil {
		return ServiceStats{}, err
	}
	return ServiceStats{
		Stats:            st,
		ProcessorRunning: eng.pool.Running(),
		WorkerID:         eng.pool.WorkerID().String(),
		Concurrency:      eng.config.Concurrency,
		ActiveRuns:       eng.pool.ActiveRuns(),
	}, nil
}

// BatchJobHistory replays the journal of a job, including jobs that were
// deleted since. It fails with docbatch.ErrNoJournal unless a readable
// journal was configured with WithJournal.
func (eng *Engine) BatchJobHistory(ctx context.Context, jobID id.BatchID) ([]*journal.Record, error) {
	if eng.history == nil {
		return nil, docbatch.ErrNoJournal
	}
	return eng.history.Replay(ctx, jobID)
}

// ──────────────────────────────────────────────────
// Processor lifecycle
// ──────────────────────────────────────────────────

// StartProcessor starts the worker pool and the periodic cleanup. Jobs that
// a previous StopProcessor suspended are queued again first. Calling it on
// a running processor is a no-op.
func (eng *Engine) StartProcessor(ctx context.Context) error {
	eng.lifecycle.Lock()
	defer eng.lifecycle.Unlock()

	if eng.pool.Running() {
		return nil
	}
	if err := eng.requeueStopped(ctx); err != nil {
		return fmt.Errorf("requeue stopped batches: %w", err)
	}
	if err := eng.janitor.Start(ctx); err != nil {
		return fmt.Errorf("start cleanup: %w", err)
	}
	return eng.pool.Start(ctx)
}

// StopProcessor stops taking new jobs and files and waits up to
// Config.ShutdownTimeout, or until ctx ends, for in-flight files. After
// that the remaining calls are cancelled and their files return to
// pending. Interrupted jobs are paused with job.PauseStopped. Calling it
// on a stopped processor is a no-op.
func (eng *Engine) StopProcessor(ctx context.Context) error {
	eng.lifecycle.Lock()
	defer eng.lifecycle.Unlock()

	if !eng.pool.Running() {
		return nil
	}
	if err := eng.janitor.Stop(ctx); err != nil {
		eng.logger.Error("cleanup stop error", slog.String("error", err.Error()))
	}

	if d := eng.config.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return eng.pool.Stop(ctx)
}

// Shutdown stops the processor and notifies extensions.
func (eng *Engine) Shutdown(ctx context.Context) error {
	err := eng.StopProcessor(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Config returns the engine configuration.
func (eng *Engine) Config() docbatch.Config { return eng.config }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Queue returns the priority queue.
func (eng *Engine) Queue() *queue.PriorityQueue { return eng.queue }

// TenantManager returns the per-tenant admission control.
func (eng *Engine) TenantManager() *queue.Manager { return eng.tenants }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// requeueStopped queues every job that StopProcessor suspended.
func (eng *Engine) requeueStopped(ctx context.Context) error {
	paused, err := eng.store.ListJobs(ctx, job.ListOpts{
		Status: job.StatusPaused,
		SortBy: job.SortByQueuedAt,
		Order:  job.OrderAsc,
	})
	if err != nil {
		return err
	}
	for _, p := range paused {
		if p.PauseReason != job.PauseStopped {
			continue
		}
		j, err := eng.store.UpdateJob(ctx, p.ID, func(j *job.Job) error {
			return resume(j, "", job.PauseStopped)
		})
		if err != nil {
			if errors.Is(err, docbatch.ErrNotFound) || errors.Is(err, docbatch.ErrConflict) {
				continue
			}
			return err
		}
		eng.requeueResumed(ctx, j)
	}
	return nil
}

func (eng *Engine) requeueResumed(ctx context.Context, j *job.Job) {
	eng.logger.Info("batch resumed",
		slog.String("batch_id", j.ID.String()),
		slog.Int("pending", j.TotalFiles-j.ProcessedFiles),
	)
	eng.extensions.EmitBatchResumed(ctx, j)
	eng.queue.Requeue(queueItem(j))
	eng.pool.Notify()
}

// resume moves a paused job back to queued. A non-empty reason only
// resumes jobs paused for that reason.
func resume(j *job.Job, priority job.Priority, reason string) error {
	if j.Status != job.StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s batch job", docbatch.ErrInvalidTransition, j.Status)
	}
	if reason != "" && j.PauseReason != reason {
		return fmt.Errorf("%w: batch job paused for %q", docbatch.ErrConflict, j.PauseReason)
	}
	if err := j.Transition(job.StatusQueued, time.Now().UTC()); err != nil {
		return err
	}
	if priority != "" {
		j.Priority = priority
	}
	return nil
}

func validatePriority(p job.Priority) error {
	if p != "" && !p.Valid() {
		return fmt.Errorf("%w %q", docbatch.ErrInvalidPriority, p)
	}
	return nil
}

func queueItem(j *job.Job) queue.Item {
	return queue.Item{
		JobID:    j.ID.String(),
		Priority: j.Priority,
		TenantID: j.TenantID,
	}
}
