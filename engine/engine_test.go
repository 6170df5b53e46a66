package engine_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/backoff"
	"github.com/xraph/docbatch/engine"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/journal"
	"github.com/xraph/docbatch/scope"
	"github.com/xraph/docbatch/stream"
	"github.com/xraph/docbatch/worker"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func testConfig() docbatch.Config {
	cfg := docbatch.DefaultConfig()
	cfg.Concurrency = 2
	cfg.FileConcurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.RetentionPeriod = 0
	return cfg
}

func newTestEngine(t *testing.T, proc worker.Processor, cfg docbatch.Config, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithConfig(cfg),
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	}, opts...)
	eng, err := engine.New(proc, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.StartProcessor(context.Background()); err != nil {
		t.Fatalf("StartProcessor: %v", err)
	}
}

// succeed is a processor that succeeds for every file.
var succeed = worker.ProcessorFunc(func(context.Context, *job.File, map[string]any) (*job.Result, error) {
	return &job.Result{Handle: "ok"}, nil
})

// failOn fails every file whose path contains "bad".
var failOn = worker.ProcessorFunc(func(_ context.Context, f *job.File, _ map[string]any) (*job.Result, error) {
	if strings.Contains(f.SourcePath, "bad") {
		return nil, errors.New("unreadable document")
	}
	return &job.Result{Handle: f.SourcePath}, nil
})

func files(paths ...string) []job.FileInput {
	in := make([]job.FileInput, len(paths))
	for i, p := range paths {
		in[i] = job.FileInput{SourcePath: p}
	}
	return in
}

func create(t *testing.T, eng *engine.Engine, req job.CreateRequest) *job.Job {
	t.Helper()
	j, err := eng.CreateBatchJob(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateBatchJob: %v", err)
	}
	return j
}

func waitFor(t *testing.T, eng *engine.Engine, jobID id.BatchID, cond func(*job.Job) bool) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := eng.GetBatchJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetBatchJob: %v", err)
		}
		if cond(j) {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out; batch %s is %s (%d/%d processed)", jobID, j.Status, j.ProcessedFiles, j.TotalFiles)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func terminal(j *job.Job) bool { return j.Status.IsTerminal() }

// counterExt counts lifecycle events by hook.
type counterExt struct {
	queued, paused, resumed, finished, cancelled, deleted atomic.Int32
}

func (c *counterExt) Name() string { return "counter" }

func (c *counterExt) OnBatchQueued(context.Context, *job.Job) error {
	c.queued.Add(1)
	return nil
}

func (c *counterExt) OnBatchPaused(context.Context, *job.Job) error {
	c.paused.Add(1)
	return nil
}

func (c *counterExt) OnBatchResumed(context.Context, *job.Job) error {
	c.resumed.Add(1)
	return nil
}

func (c *counterExt) OnBatchFinished(context.Context, *job.Job, time.Duration) error {
	c.finished.Add(1)
	return nil
}

func (c *counterExt) OnBatchCancelled(context.Context, *job.Job, job.Status) error {
	c.cancelled.Add(1)
	return nil
}

func (c *counterExt) OnBatchDeleted(context.Context, *job.Job) error {
	c.deleted.Add(1)
	return nil
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	start(t, eng)

	j := create(t, eng, job.CreateRequest{
		Name:      "statements",
		Files:     files("jan.pdf", "feb.pdf", "mar.pdf"),
		AutoQueue: true,
	})
	if j.Status != job.StatusQueued {
		t.Fatalf("Status = %q, want queued", j.Status)
	}

	done := waitFor(t, eng, j.ID, terminal)
	if done.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want completed", done.Status)
	}
	if done.ProcessedFiles != 3 || done.FailedFiles != 0 || done.Progress != 100 {
		t.Errorf("counters = %d/%d/%d%%", done.ProcessedFiles, done.FailedFiles, done.Progress)
	}
	if done.Summary == nil || done.Summary.SucceededFiles != 3 {
		t.Fatalf("summary = %+v", done.Summary)
	}
	if done.StartedAt == nil || done.CompletedAt == nil || done.StartedAt.After(*done.CompletedAt) {
		t.Error("expected StartedAt <= CompletedAt")
	}
	for _, f := range done.Files {
		if f.Result == nil || f.Result.Handle != "ok" || f.Attempts != 1 {
			t.Errorf("file %s: result %+v, attempts %d", f.ID, f.Result, f.Attempts)
		}
	}
}

func TestEngine_PartialFailure(t *testing.T) {
	eng := newTestEngine(t, failOn, testConfig())
	start(t, eng)

	j := create(t, eng, job.CreateRequest{Files: files("one.pdf", "bad.pdf", "three.pdf"), AutoQueue: true})
	done := waitFor(t, eng, j.ID, terminal)

	if done.Status != job.StatusPartiallyFailed {
		t.Errorf("Status = %q, want partially_failed", done.Status)
	}
	if done.ProcessedFiles != 3 || done.FailedFiles != 1 || done.Progress != 100 {
		t.Errorf("counters = %d/%d/%d%%, want 3/1/100%%", done.ProcessedFiles, done.FailedFiles, done.Progress)
	}
	if len(done.Summary.Errors) != 1 || done.Summary.Errors[0].SourcePath != "bad.pdf" {
		t.Errorf("summary errors = %+v", done.Summary.Errors)
	}
	if !strings.Contains(done.Summary.Errors[0].Error, "unreadable document") {
		t.Errorf("error = %q", done.Summary.Errors[0].Error)
	}
}

func TestEngine_FaultIsolation(t *testing.T) {
	eng := newTestEngine(t, failOn, testConfig())

	bad := create(t, eng, job.CreateRequest{Files: files("bad-1", "bad-2", "bad-3"), AutoQueue: true})
	good := create(t, eng, job.CreateRequest{Files: files("ok-1", "ok-2"), AutoQueue: true})
	start(t, eng)

	failed := waitFor(t, eng, bad.ID, terminal)
	completed := waitFor(t, eng, good.ID, terminal)

	if failed.Status != job.StatusFailed {
		t.Errorf("bad job Status = %q, want failed", failed.Status)
	}
	if len(failed.Summary.Errors) != failed.TotalFiles {
		t.Errorf("len(errors) = %d, want %d", len(failed.Summary.Errors), failed.TotalFiles)
	}
	if completed.Status != job.StatusCompleted {
		t.Errorf("sibling Status = %q, want completed", completed.Status)
	}
}

func TestEngine_PanickingProcessor(t *testing.T) {
	proc := worker.ProcessorFunc(func(_ context.Context, f *job.File, _ map[string]any) (*job.Result, error) {
		if f.SourcePath == "panic" {
			panic("corrupt xref table")
		}
		return &job.Result{}, nil
	})
	eng := newTestEngine(t, proc, testConfig())
	start(t, eng)

	j := create(t, eng, job.CreateRequest{Files: files("panic", "fine"), AutoQueue: true})
	done := waitFor(t, eng, j.ID, terminal)
	if done.Status != job.StatusPartiallyFailed {
		t.Errorf("Status = %q, want partially_failed", done.Status)
	}

	// The pool survives and keeps processing.
	next := create(t, eng, job.CreateRequest{Files: files("fine"), AutoQueue: true})
	if got := waitFor(t, eng, next.ID, terminal); got.Status != job.StatusCompleted {
		t.Errorf("next job Status = %q, want completed", got.Status)
	}
}

func TestEngine_FileRetries(t *testing.T) {
	var calls atomic.Int32
	proc := worker.ProcessorFunc(func(context.Context, *job.File, map[string]any) (*job.Result, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return &job.Result{}, nil
	})
	cfg := testConfig()
	cfg.FileRetries = 2
	eng := newTestEngine(t, proc, cfg)
	start(t, eng)

	j := create(t, eng, job.CreateRequest{Files: files("flaky.pdf"), AutoQueue: true})
	if got := waitFor(t, eng, j.ID, terminal); got.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Creation and queueing
// ──────────────────────────────────────────────────

func TestCreateBatchJob_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFilesPerJob = 2
	eng := newTestEngine(t, succeed, cfg)
	ctx := context.Background()

	if _, err := eng.CreateBatchJob(ctx, job.CreateRequest{}); !errors.Is(err, docbatch.ErrValidation) {
		t.Errorf("no files: err = %v, want ErrValidation", err)
	}
	if _, err := eng.CreateBatchJob(ctx, job.CreateRequest{Files: files("a", "b", "c")}); !errors.Is(err, docbatch.ErrTooManyFiles) {
		t.Errorf("too many files: err = %v, want ErrTooManyFiles", err)
	}
	if _, err := eng.CreateBatchJob(ctx, job.CreateRequest{Priority: "asap", Files: files("a")}); !errors.Is(err, docbatch.ErrInvalidPriority) {
		t.Errorf("bad priority: err = %v, want ErrInvalidPriority", err)
	}

	list, _ := eng.ListBatchJobs(ctx, job.ListOpts{})
	if len(list) != 0 {
		t.Errorf("rejected requests stored %d jobs", len(list))
	}
}

func TestCreateBatchJob_ScopeDefaults(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := scope.Restore(context.Background(), "acme", "alice")

	j, err := eng.CreateBatchJob(ctx, job.CreateRequest{Files: files("a")})
	if err != nil {
		t.Fatalf("CreateBatchJob: %v", err)
	}
	if j.TenantID != "acme" || j.UserID != "alice" {
		t.Errorf("tenant/user = %q/%q, want acme/alice", j.TenantID, j.UserID)
	}
	if j.Status != job.StatusCreated {
		t.Errorf("Status = %q, want created", j.Status)
	}

	explicit, _ := eng.CreateBatchJob(ctx, job.CreateRequest{TenantID: "globex", Files: files("a")})
	if explicit.TenantID != "globex" {
		t.Errorf("explicit tenant overridden: %q", explicit.TenantID)
	}
}

func TestQueueBatchJob_Idempotent(t *testing.T) {
	counter := &counterExt{}
	eng := newTestEngine(t, succeed, testConfig(), engine.WithExtension(counter))
	ctx := context.Background()
	j := create(t, eng, job.CreateRequest{Priority: job.PriorityLow, Files: files("a")})

	for range 2 {
		if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{}); err != nil {
			t.Fatalf("QueueBatchJob: %v", err)
		}
	}
	if eng.Queue().Len() != 1 {
		t.Errorf("queue length = %d, want 1", eng.Queue().Len())
	}
	if counter.queued.Load() != 1 {
		t.Errorf("BatchQueued fired %d times, want 1", counter.queued.Load())
	}

	got, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{Priority: job.PriorityUrgent})
	if err != nil {
		t.Fatalf("reprioritize: %v", err)
	}
	if got.Priority != job.PriorityUrgent {
		t.Errorf("Priority = %q, want urgent", got.Priority)
	}
	snap := eng.Queue().Snapshot()
	if len(snap) != 1 || snap[0].Priority != job.PriorityUrgent {
		t.Errorf("queue = %+v, want one urgent entry", snap)
	}
}

func TestQueueBatchJob_DequeuedNotReinserted(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()
	j := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})

	// A worker has taken the entry but the run has not started yet.
	if !eng.Queue().Remove(j.ID.String()) {
		t.Fatal("job was not queued")
	}

	got, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatchJob: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Errorf("Status = %q, want queued", got.Status)
	}
	if eng.Queue().Len() != 0 {
		t.Errorf("queue length = %d, want 0", eng.Queue().Len())
	}

	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{Priority: job.PriorityHigh}); err != nil {
		t.Fatalf("reprioritize: %v", err)
	}
	if eng.Queue().Len() != 0 {
		t.Errorf("queue length after reprioritize = %d, want 0", eng.Queue().Len())
	}
}

func TestQueueBatchJob_Errors(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()

	if _, err := eng.QueueBatchJob(ctx, id.NewBatchID(), engine.QueueOptions{}); !errors.Is(err, docbatch.ErrNotFound) {
		t.Errorf("unknown job: err = %v, want ErrNotFound", err)
	}

	j := create(t, eng, job.CreateRequest{Files: files("a")})
	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{Priority: "whenever"}); !errors.Is(err, docbatch.ErrValidation) {
		t.Errorf("bad priority: err = %v, want ErrValidation", err)
	}

	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{}); err != nil {
		t.Fatalf("QueueBatchJob: %v", err)
	}
	if _, err := eng.CancelBatchJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelBatchJob: %v", err)
	}
	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{}); !errors.Is(err, docbatch.ErrConflict) {
		t.Errorf("queue cancelled: err = %v, want ErrConflict", err)
	}
}

func TestEngine_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	proc := worker.ProcessorFunc(func(_ context.Context, f *job.File, _ map[string]any) (*job.Result, error) {
		mu.Lock()
		order = append(order, f.SourcePath)
		mu.Unlock()
		return &job.Result{}, nil
	})
	cfg := testConfig()
	cfg.Concurrency = 1
	eng := newTestEngine(t, proc, cfg)

	a := create(t, eng, job.CreateRequest{Priority: job.PriorityLow, Files: files("A"), AutoQueue: true})
	b := create(t, eng, job.CreateRequest{Priority: job.PriorityUrgent, Files: files("B"), AutoQueue: true})
	c := create(t, eng, job.CreateRequest{Priority: job.PriorityMedium, Files: files("C"), AutoQueue: true})
	start(t, eng)

	for _, j := range []*job.Job{a, b, c} {
		waitFor(t, eng, j.ID, terminal)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"B", "C", "A"}; !slices.Equal(order, want) {
		t.Errorf("processing order = %v, want %v", order, want)
	}
}

// ──────────────────────────────────────────────────
// Pause, resume, cancel
// ──────────────────────────────────────────────────

func TestEngine_PauseResume(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := map[string]int{}
	proc := worker.ProcessorFunc(func(_ context.Context, f *job.File, _ map[string]any) (*job.Result, error) {
		mu.Lock()
		calls[f.SourcePath]++
		first := f.SourcePath == "p1" && calls["p1"] == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return &job.Result{Handle: f.SourcePath}, nil
	})

	cfg := testConfig()
	cfg.FileConcurrency = 1
	counter := &counterExt{}
	eng := newTestEngine(t, proc, cfg, engine.WithExtension(counter))
	start(t, eng)
	ctx := context.Background()

	j := create(t, eng, job.CreateRequest{Files: files("p1", "p2", "p3"), AutoQueue: true})
	<-started

	paused, err := eng.PauseBatchJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("PauseBatchJob: %v", err)
	}
	if paused.Status != job.StatusPaused || paused.PauseReason != job.PauseRequested {
		t.Errorf("paused = %s (%q)", paused.Status, paused.PauseReason)
	}
	close(release)

	// The in-flight file finishes and is kept; nothing else starts.
	waitFor(t, eng, j.ID, func(j *job.Job) bool { return j.ProcessedFiles == 1 })
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if calls["p2"] != 0 || calls["p3"] != 0 {
		t.Errorf("files started while paused: %v", calls)
	}
	mu.Unlock()
	if got, _ := eng.GetBatchJob(ctx, j.ID); got.Status != job.StatusPaused {
		t.Fatalf("Status = %q, want paused", got.Status)
	}

	if _, err := eng.ResumeBatchJob(ctx, j.ID, engine.QueueOptions{}); err != nil {
		t.Fatalf("ResumeBatchJob: %v", err)
	}
	done := waitFor(t, eng, j.ID, terminal)
	if done.Status != job.StatusCompleted || done.ProcessedFiles != 3 {
		t.Errorf("after resume: %s, %d processed", done.Status, done.ProcessedFiles)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, p := range []string{"p1", "p2", "p3"} {
		if calls[p] != 1 {
			t.Errorf("%s processed %d times, want 1", p, calls[p])
		}
	}
	if counter.paused.Load() != 1 || counter.resumed.Load() != 1 {
		t.Errorf("paused/resumed events = %d/%d, want 1/1", counter.paused.Load(), counter.resumed.Load())
	}
}

func TestEngine_ResumeWhileFileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := map[string]int{}
	proc := worker.ProcessorFunc(func(_ context.Context, f *job.File, _ map[string]any) (*job.Result, error) {
		mu.Lock()
		calls[f.SourcePath]++
		first := f.SourcePath == "p1" && calls["p1"] == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return &job.Result{Handle: f.SourcePath}, nil
	})

	cfg := testConfig()
	cfg.FileConcurrency = 1
	eng := newTestEngine(t, proc, cfg)
	start(t, eng)
	ctx := context.Background()

	j := create(t, eng, job.CreateRequest{Files: files("p1", "p2", "p3"), AutoQueue: true})
	<-started

	if _, err := eng.PauseBatchJob(ctx, j.ID); err != nil {
		t.Fatalf("PauseBatchJob: %v", err)
	}
	resumed, err := eng.ResumeBatchJob(ctx, j.ID, engine.QueueOptions{})
	if err != nil {
		t.Fatalf("ResumeBatchJob: %v", err)
	}
	if resumed.Status != job.StatusQueued {
		t.Fatalf("Status = %q, want queued", resumed.Status)
	}
	close(release)

	done := waitFor(t, eng, j.ID, terminal)
	if done.Status != job.StatusCompleted || done.ProcessedFiles != 3 {
		t.Errorf("after resume: %s, %d/%d processed", done.Status, done.ProcessedFiles, done.TotalFiles)
	}
	for _, f := range done.Files {
		if f.Status != job.FileSucceeded {
			t.Errorf("file %s is %s, want succeeded", f.SourcePath, f.Status)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, p := range []string{"p1", "p2", "p3"} {
		if calls[p] != 1 {
			t.Errorf("%s processed %d times, want 1", p, calls[p])
		}
	}
}

func TestPauseResume_Conflicts(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()
	j := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})

	if _, err := eng.PauseBatchJob(ctx, j.ID); !errors.Is(err, docbatch.ErrConflict) {
		t.Errorf("pause queued: err = %v, want ErrConflict", err)
	}
	if _, err := eng.ResumeBatchJob(ctx, j.ID, engine.QueueOptions{}); !errors.Is(err, docbatch.ErrConflict) {
		t.Errorf("resume queued: err = %v, want ErrConflict", err)
	}
	if _, err := eng.PauseBatchJob(ctx, id.NewBatchID()); !errors.Is(err, docbatch.ErrNotFound) {
		t.Errorf("pause unknown: err = %v, want ErrNotFound", err)
	}
}

func TestCancelBatchJob_Queued(t *testing.T) {
	var calls atomic.Int32
	proc := worker.ProcessorFunc(func(context.Context, *job.File, map[string]any) (*job.Result, error) {
		calls.Add(1)
		return &job.Result{}, nil
	})
	counter := &counterExt{}
	eng := newTestEngine(t, proc, testConfig(), engine.WithExtension(counter))
	ctx := context.Background()

	j := create(t, eng, job.CreateRequest{Files: files("a", "b"), AutoQueue: true})
	cancelled, err := eng.CancelBatchJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("CancelBatchJob: %v", err)
	}
	if cancelled.Status != job.StatusCancelled || cancelled.Summary == nil || cancelled.Summary.PendingFiles != 2 {
		t.Errorf("cancelled = %s, summary %+v", cancelled.Status, cancelled.Summary)
	}
	if eng.Queue().Contains(j.ID.String()) {
		t.Error("cancelled job still queued")
	}

	start(t, eng)
	time.Sleep(100 * time.Millisecond)

	got, _ := eng.GetBatchJob(ctx, j.ID)
	if got.Status != job.StatusCancelled || got.StartedAt != nil {
		t.Errorf("cancelled job ran: %s, started %v", got.Status, got.StartedAt)
	}
	if calls.Load() != 0 {
		t.Errorf("processor called %d times", calls.Load())
	}
	if counter.cancelled.Load() != 1 {
		t.Errorf("BatchCancelled fired %d times", counter.cancelled.Load())
	}
}

func TestCancelBatchJob_Conflicts(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()
	j := create(t, eng, job.CreateRequest{Files: files("a")})

	if _, err := eng.CancelBatchJob(ctx, j.ID); !errors.Is(err, docbatch.ErrInvalidTransition) {
		t.Errorf("cancel created: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{}); err != nil {
		t.Fatalf("QueueBatchJob: %v", err)
	}
	if _, err := eng.CancelBatchJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelBatchJob: %v", err)
	}
	if _, err := eng.CancelBatchJob(ctx, j.ID); !errors.Is(err, docbatch.ErrConflict) {
		t.Errorf("cancel twice: err = %v, want ErrConflict", err)
	}
}

// ──────────────────────────────────────────────────
// Delete and cleanup
// ──────────────────────────────────────────────────

func TestDeleteBatchJob(t *testing.T) {
	counter := &counterExt{}
	eng := newTestEngine(t, succeed, testConfig(), engine.WithExtension(counter))
	ctx := context.Background()

	queued := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})
	if err := eng.DeleteBatchJob(ctx, queued.ID, engine.DeleteOptions{}); !errors.Is(err, docbatch.ErrJobActive) {
		t.Errorf("delete queued: err = %v, want ErrJobActive", err)
	}
	if err := eng.DeleteBatchJob(ctx, queued.ID, engine.DeleteOptions{Force: true}); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
	if eng.Queue().Len() != 0 {
		t.Error("deleted job left in the queue")
	}
	if _, err := eng.GetBatchJob(ctx, queued.ID); !errors.Is(err, docbatch.ErrNotFound) {
		t.Errorf("get deleted: err = %v, want ErrNotFound", err)
	}
	if err := eng.DeleteBatchJob(ctx, queued.ID, engine.DeleteOptions{Force: true}); !errors.Is(err, docbatch.ErrNotFound) {
		t.Errorf("delete twice: err = %v, want ErrNotFound", err)
	}

	created := create(t, eng, job.CreateRequest{Files: files("a")})
	if err := eng.DeleteBatchJob(ctx, created.ID, engine.DeleteOptions{}); err != nil {
		t.Errorf("delete created: %v", err)
	}
	if counter.deleted.Load() != 2 {
		t.Errorf("BatchDeleted fired %d times, want 2", counter.deleted.Load())
	}
}

func TestDeleteBatchJob_ForceAbortsRun(t *testing.T) {
	started := make(chan struct{}, 1)
	proc := worker.ProcessorFunc(func(ctx context.Context, _ *job.File, _ map[string]any) (*job.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	eng := newTestEngine(t, proc, testConfig())
	start(t, eng)

	j := create(t, eng, job.CreateRequest{Files: files("slow"), AutoQueue: true})
	<-started

	if err := eng.DeleteBatchJob(context.Background(), j.ID, engine.DeleteOptions{Force: true}); err != nil {
		t.Fatalf("forced delete: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for eng.Pool().ActiveRuns() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("run of deleted job still active")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCleanupBatchJobs(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	done := create(t, eng, job.CreateRequest{Files: files("a")})
	_, err := eng.Store().UpdateJob(ctx, done.ID, func(j *job.Job) error {
		_ = j.Transition(job.StatusQueued, old)
		_ = j.Transition(job.StatusProcessing, old)
		j.Files[0].Status = job.FileSucceeded
		return j.Transition(job.StatusCompleted, old)
	})
	if err != nil {
		t.Fatalf("complete job: %v", err)
	}

	active := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})
	if _, err := eng.Store().UpdateJob(ctx, active.ID, func(j *job.Job) error {
		j.CreatedAt = old
		return nil
	}); err != nil {
		t.Fatalf("age job: %v", err)
	}

	n, err := eng.CleanupBatchJobs(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupBatchJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := eng.GetBatchJob(ctx, done.ID); !errors.Is(err, docbatch.ErrNotFound) {
		t.Errorf("old completed job kept: %v", err)
	}
	if _, err := eng.GetBatchJob(ctx, active.ID); err != nil {
		t.Errorf("old active job deleted: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Tenants
// ──────────────────────────────────────────────────

func TestEngine_TenantCap(t *testing.T) {
	var mu sync.Mutex
	running := map[string]int{}
	peak := map[string]int{}
	proc := worker.ProcessorFunc(func(_ context.Context, _ *job.File, opts map[string]any) (*job.Result, error) {
		tenant, _ := opts["tenant"].(string)
		mu.Lock()
		running[tenant]++
		peak[tenant] = max(peak[tenant], running[tenant])
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running[tenant]--
		mu.Unlock()
		return &job.Result{}, nil
	})

	cfg := testConfig()
	cfg.Concurrency = 4
	cfg.DefaultTenantConcurrency = 1
	eng := newTestEngine(t, proc, cfg)

	var jobs []*job.Job
	for _, tenant := range []string{"acme", "acme", "acme", "globex", "globex", "globex"} {
		jobs = append(jobs, create(t, eng, job.CreateRequest{
			TenantID:          tenant,
			ProcessingOptions: map[string]any{"tenant": tenant},
			Files:             files("doc"),
			AutoQueue:         true,
		}))
	}
	start(t, eng)

	for _, j := range jobs {
		if got := waitFor(t, eng, j.ID, terminal); got.Status != job.StatusCompleted {
			t.Errorf("job %s = %s", j.ID, got.Status)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for tenant, n := range peak {
		if n > 1 {
			t.Errorf("tenant %s ran %d jobs at once, cap is 1", tenant, n)
		}
	}
}

func TestListBatchJobs_TenantAndUser(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()

	create(t, eng, job.CreateRequest{TenantID: "acme", UserID: "alice", Files: files("a")})
	create(t, eng, job.CreateRequest{TenantID: "acme", UserID: "bob", Files: files("a")})
	create(t, eng, job.CreateRequest{TenantID: "globex", UserID: "alice", Files: files("a")})

	acme, err := eng.ListBatchJobsForTenant(ctx, "acme", job.ListOpts{})
	if err != nil || len(acme) != 2 {
		t.Errorf("acme jobs = %d, %v; want 2", len(acme), err)
	}
	alice, err := eng.ListBatchJobsForUser(ctx, "alice", job.ListOpts{TenantID: "globex"})
	if err != nil || len(alice) != 1 {
		t.Errorf("alice@globex jobs = %d, %v; want 1", len(alice), err)
	}
	if _, err := eng.ListBatchJobs(ctx, job.ListOpts{Status: "sleeping"}); !errors.Is(err, docbatch.ErrValidation) {
		t.Errorf("bad status filter: err = %v, want ErrValidation", err)
	}
}

// ──────────────────────────────────────────────────
// Processor lifecycle
// ──────────────────────────────────────────────────

func TestEngine_StartStopIdempotent(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()

	for range 2 {
		if err := eng.StartProcessor(ctx); err != nil {
			t.Fatalf("StartProcessor: %v", err)
		}
	}
	if !eng.Pool().Running() {
		t.Fatal("pool not running")
	}
	for range 2 {
		if err := eng.StopProcessor(ctx); err != nil {
			t.Fatalf("StopProcessor: %v", err)
		}
	}
	if eng.Pool().Running() {
		t.Fatal("pool still running")
	}

	// Restart and process.
	start(t, eng)
	j := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})
	if got := waitFor(t, eng, j.ID, terminal); got.Status != job.StatusCompleted {
		t.Errorf("Status = %q after restart", got.Status)
	}
}

func TestEngine_StopDeadlineSuspendsAndStartRequeues(t *testing.T) {
	var released atomic.Bool
	started := make(chan struct{}, 1)
	proc := worker.ProcessorFunc(func(ctx context.Context, _ *job.File, _ map[string]any) (*job.Result, error) {
		if released.Load() {
			return &job.Result{}, nil
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	counter := &counterExt{}
	eng := newTestEngine(t, proc, cfg, engine.WithExtension(counter))
	start(t, eng)
	ctx := context.Background()

	j := create(t, eng, job.CreateRequest{Files: files("slow"), AutoQueue: true})
	<-started

	if err := eng.StopProcessor(ctx); err != nil {
		t.Fatalf("StopProcessor: %v", err)
	}

	suspended, _ := eng.GetBatchJob(ctx, j.ID)
	if suspended.Status != job.StatusPaused || suspended.PauseReason != job.PauseStopped {
		t.Fatalf("after stop: %s (%q), want paused (%q)", suspended.Status, suspended.PauseReason, job.PauseStopped)
	}
	if suspended.Files[0].Status != job.FilePending {
		t.Errorf("abandoned file status = %q, want pending", suspended.Files[0].Status)
	}

	released.Store(true)
	start(t, eng)

	done := waitFor(t, eng, j.ID, terminal)
	if done.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want completed", done.Status)
	}
	if counter.resumed.Load() != 1 {
		t.Errorf("BatchResumed fired %d times, want 1", counter.resumed.Load())
	}
}

func TestEngine_StartLeavesUserPausedJobs(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()

	j := create(t, eng, job.CreateRequest{Files: files("a")})
	_, err := eng.Store().UpdateJob(ctx, j.ID, func(j *job.Job) error {
		now := time.Now().UTC()
		_ = j.Transition(job.StatusQueued, now)
		_ = j.Transition(job.StatusProcessing, now)
		if err := j.Transition(job.StatusPaused, now); err != nil {
			return err
		}
		j.PauseReason = job.PauseRequested
		return nil
	})
	if err != nil {
		t.Fatalf("pause job: %v", err)
	}

	start(t, eng)
	time.Sleep(50 * time.Millisecond)
	if got, _ := eng.GetBatchJob(ctx, j.ID); got.Status != job.StatusPaused {
		t.Errorf("Status = %q, want paused", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Stats, history and telemetry
// ──────────────────────────────────────────────────

func TestGetServiceStats(t *testing.T) {
	eng := newTestEngine(t, succeed, testConfig())
	ctx := context.Background()

	create(t, eng, job.CreateRequest{TenantID: "acme", Priority: job.PriorityHigh, Files: files("a", "b"), AutoQueue: true})
	create(t, eng, job.CreateRequest{TenantID: "acme", Files: files("a")})

	st, err := eng.GetServiceStats(ctx)
	if err != nil {
		t.Fatalf("GetServiceStats: %v", err)
	}
	if st.TotalJobs != 2 || st.ActiveJobs != 1 || st.QueueDepth != 1 {
		t.Errorf("totals = %d/%d/%d, want 2/1/1", st.TotalJobs, st.ActiveJobs, st.QueueDepth)
	}
	if st.ByPriority[job.PriorityHigh] != 1 || st.FilesTotal != 3 {
		t.Errorf("ByPriority = %v, FilesTotal = %d", st.ByPriority, st.FilesTotal)
	}
	if st.ByTenant["acme"].Queued != 1 {
		t.Errorf("acme = %+v", st.ByTenant["acme"])
	}
	if st.ProcessorRunning || st.WorkerID == "" || st.Concurrency != 2 {
		t.Errorf("processor state = %v/%q/%d", st.ProcessorRunning, st.WorkerID, st.Concurrency)
	}
}

func TestBatchJobHistory(t *testing.T) {
	ctx := context.Background()

	plain := newTestEngine(t, succeed, testConfig())
	if _, err := plain.BatchJobHistory(ctx, id.NewBatchID()); !errors.Is(err, docbatch.ErrNoJournal) {
		t.Errorf("err = %v, want ErrNoJournal", err)
	}

	eng := newTestEngine(t, failOn, testConfig(), engine.WithJournal(journal.NewMemory(nil)))
	start(t, eng)
	j := create(t, eng, job.CreateRequest{Files: files("ok", "bad"), AutoQueue: true})
	waitFor(t, eng, j.ID, terminal)

	var records []*journal.Record
	deadline := time.Now().Add(5 * time.Second)
	for len(records) < 6 && time.Now().Before(deadline) {
		var err error
		if records, err = eng.BatchJobHistory(ctx, j.ID); err != nil {
			t.Fatalf("BatchJobHistory: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(records) != 6 {
		t.Fatalf("len(records) = %d, want 6", len(records))
	}

	if records[0].Kind != journal.KindCreated || records[1].To != job.StatusQueued || records[2].To != job.StatusProcessing {
		t.Errorf("unexpected prefix: %v %v %v", records[0].Kind, records[1].To, records[2].To)
	}
	statuses := []job.FileStatus{records[3].FileStatus, records[4].FileStatus}
	if !slices.Contains(statuses, job.FileSucceeded) || !slices.Contains(statuses, job.FileFailed) {
		t.Errorf("file records = %v", statuses)
	}
	if last := records[5]; last.From != job.StatusProcessing || last.To != job.StatusPartiallyFailed {
		t.Errorf("last record = %s -> %s", last.From, last.To)
	}
}

func TestEngine_StreamBroker(t *testing.T) {
	broker := stream.NewBroker(nil)
	eng := newTestEngine(t, succeed, testConfig(), engine.WithExtension(broker))
	sub := broker.Subscribe("watcher", stream.TopicBatches)

	start(t, eng)
	j := create(t, eng, job.CreateRequest{Files: files("a"), AutoQueue: true})
	waitFor(t, eng, j.ID, terminal)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var seen []stream.EventType
	for !slices.Contains(seen, stream.EventBatchFinished) {
		evt, ok := sub.Next(ctx)
		if !ok {
			t.Fatalf("stream ended early; saw %v", seen)
		}
		if evt.Topic != stream.BatchTopic(j.ID.String()) {
			t.Errorf("event on topic %q", evt.Topic)
		}
		seen = append(seen, evt.Type)
	}
	want := []stream.EventType{
		stream.EventBatchCreated, stream.EventBatchQueued,
		stream.EventBatchStarted, stream.EventBatchFinished,
	}
	if !slices.Equal(seen, want) {
		t.Errorf("events = %v, want %v", seen, want)
	}
}

func TestEngine_Telemetry(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	eng := newTestEngine(t, succeed, testConfig(),
		engine.WithTracerProvider(tp),
		engine.WithMeterProvider(mp),
	)
	start(t, eng)
	j := create(t, eng, job.CreateRequest{Files: files("a", "b"), AutoQueue: true})
	waitFor(t, eng, j.ID, terminal)

	spans := 0
	for _, s := range sr.Ended() {
		if s.Name() == "docbatch.file.process" {
			spans++
		}
	}
	if spans != 2 {
		t.Errorf("file spans = %d, want 2", spans)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Error("expected metrics to be recorded")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, docbatch.ErrValidation) {
		t.Errorf("nil processor: err = %v, want ErrValidation", err)
	}
	cfg := testConfig()
	cfg.Concurrency = 0
	if _, err := engine.New(succeed, engine.WithConfig(cfg)); !errors.Is(err, docbatch.ErrValidation) {
		t.Errorf("zero concurrency: err = %v, want ErrValidation", err)
	}
	cfg = testConfig()
	cfg.DefaultPriority = "someday"
	if _, err := engine.New(succeed, engine.WithConfig(cfg)); !errors.Is(err, docbatch.ErrInvalidPriority) {
		t.Errorf("bad default priority: err = %v, want ErrInvalidPriority", err)
	}
}
