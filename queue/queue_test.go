package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/docbatch/job"
)

// ---------------------------------------------------------------------------
// PriorityQueue ordering
// ---------------------------------------------------------------------------

func TestPriorityQueue_TierThenFIFO(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(Item{JobID: "A", Priority: job.PriorityLow})
	q.Enqueue(Item{JobID: "B", Priority: job.PriorityUrgent})
	q.Enqueue(Item{JobID: "C", Priority: job.PriorityMedium})
	q.Enqueue(Item{JobID: "D", Priority: job.PriorityMedium})

	want := []string{"B", "C", "D", "A"}
	for i, id := range want {
		it, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: queue empty", i)
		}
		if it.JobID != id {
			t.Fatalf("Dequeue %d = %q, want %q", i, it.JobID, id)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestPriorityQueue_EnqueueIdempotent(t *testing.T) {
	q := NewPriorityQueue()
	if !q.Enqueue(Item{JobID: "A", Priority: job.PriorityLow}) {
		t.Fatal("first Enqueue should insert")
	}
	if q.Enqueue(Item{JobID: "A", Priority: job.PriorityUrgent}) {
		t.Fatal("second Enqueue should be a no-op")
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	it, _ := q.Dequeue()
	if it.Priority != job.PriorityLow {
		t.Errorf("duplicate enqueue changed priority to %q", it.Priority)
	}
}

func TestPriorityQueue_RemoveAndContains(t *testing.T) {
	q := NewPriorityQueue()
	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(Item{JobID: id, Priority: job.PriorityHigh})
	}
	if !q.Remove("B") {
		t.Fatal("Remove should report a removed entry")
	}
	if q.Remove("B") {
		t.Fatal("second Remove should be a no-op")
	}
	if q.Contains("B") || !q.Contains("A") {
		t.Fatal("Contains out of sync with Remove")
	}

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].JobID != "A" || snap[1].JobID != "C" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if q.Len() != 2 {
		t.Fatal("Snapshot must not consume the queue")
	}
}

func TestPriorityQueue_Requeue(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(Item{JobID: "A", Priority: job.PriorityMedium})
	q.Enqueue(Item{JobID: "B", Priority: job.PriorityMedium})

	// Same tier: A goes to the back.
	q.Requeue(Item{JobID: "A", Priority: job.PriorityMedium})
	if it, _ := q.Dequeue(); it.JobID != "B" {
		t.Fatalf("Dequeue = %q, want B", it.JobID)
	}

	// New tier: the override wins.
	q.Enqueue(Item{JobID: "C", Priority: job.PriorityHigh})
	q.Requeue(Item{JobID: "A", Priority: job.PriorityUrgent})
	if it, _ := q.Dequeue(); it.JobID != "A" {
		t.Fatalf("Dequeue = %q, want A", it.JobID)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestPriorityQueue_DequeueFuncSkipsRejected(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(Item{JobID: "A", Priority: job.PriorityUrgent, TenantID: "busy"})
	q.Enqueue(Item{JobID: "B", Priority: job.PriorityUrgent, TenantID: "busy"})
	q.Enqueue(Item{JobID: "C", Priority: job.PriorityLow, TenantID: "idle"})

	it, ok := q.DequeueFunc(func(it Item) bool { return it.TenantID != "busy" })
	if !ok || it.JobID != "C" {
		t.Fatalf("DequeueFunc = %q, %v; want C", it.JobID, ok)
	}
	if _, ok := q.DequeueFunc(func(Item) bool { return false }); ok {
		t.Fatal("expected no admitted item")
	}

	// Rejected items keep their order.
	if it, _ := q.Dequeue(); it.JobID != "A" {
		t.Fatalf("Dequeue = %q, want A", it.JobID)
	}
	if it, _ := q.Dequeue(); it.JobID != "B" {
		t.Fatalf("Dequeue = %q, want B", it.JobID)
	}
}

func TestPriorityQueue_Depths(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(Item{JobID: "A", Priority: job.PriorityLow, TenantID: "acme"})
	q.Enqueue(Item{JobID: "B", Priority: job.PriorityLow, TenantID: "acme"})
	q.Enqueue(Item{JobID: "C", Priority: job.PriorityHigh, TenantID: "globex"})

	byTenant := q.DepthByTenant()
	if byTenant["acme"] != 2 || byTenant["globex"] != 1 {
		t.Errorf("DepthByTenant = %v", byTenant)
	}
	byPriority := q.DepthByPriority()
	if byPriority[job.PriorityLow] != 2 || byPriority[job.PriorityHigh] != 1 {
		t.Errorf("DepthByPriority = %v", byPriority)
	}
}

func TestPriorityQueue_EnqueuedAtDefaults(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(Item{JobID: "A", Priority: job.PriorityLow})
	it, _ := q.Dequeue()
	if it.EnqueuedAt.IsZero() {
		t.Error("expected EnqueuedAt to be stamped")
	}
}

func TestPriorityQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewPriorityQueue()
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Enqueue(Item{JobID: "same", Priority: job.PriorityMedium}) {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	if inserted.Load() != 1 || q.Len() != 1 {
		t.Fatalf("inserted %d, Len %d; want 1, 1", inserted.Load(), q.Len())
	}
}

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager(0)
	// No caps; Acquire should always succeed.
	for range 10 {
		if !m.Acquire("acme") {
			t.Fatal("expected Acquire to succeed for an uncapped tenant")
		}
	}
	if m.ActiveCount("acme") != 10 {
		t.Fatalf("expected 10 active, got %d", m.ActiveCount("acme"))
	}
}

func TestManager_AnonymousNeverCapped(t *testing.T) {
	m := NewManager(1)
	for range 5 {
		if !m.Acquire("") {
			t.Fatal("anonymous tenant should never be capped")
		}
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_DefaultConcurrency(t *testing.T) {
	m := NewManager(1)

	if !m.Acquire("acme") {
		t.Fatal("first Acquire should succeed")
	}
	if m.Acquire("acme") {
		t.Fatal("second Acquire should fail (default cap 1)")
	}
	// Another tenant has its own slot.
	if !m.Acquire("globex") {
		t.Fatal("other tenant should not be blocked")
	}

	m.Release("acme")
	if !m.Acquire("acme") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_TenantConfigOverridesDefault(t *testing.T) {
	m := NewManager(1, TenantConfig{TenantID: "acme", MaxConcurrency: 3})

	for i := range 3 {
		if !m.Acquire("acme") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.Acquire("acme") {
		t.Fatal("fourth Acquire should fail (max concurrency 3)")
	}
	if m.TotalActive() != 3 {
		t.Fatalf("TotalActive = %d, want 3", m.TotalActive())
	}
}

func TestManager_SetTenantConfig_PreservesActive(t *testing.T) {
	m := NewManager(0, TenantConfig{TenantID: "acme", MaxConcurrency: 2})
	m.Acquire("acme")
	m.Acquire("acme")

	m.SetTenantConfig(TenantConfig{TenantID: "acme", MaxConcurrency: 3})
	if m.ActiveCount("acme") != 2 {
		t.Fatalf("expected active count 2 after reconfigure, got %d", m.ActiveCount("acme"))
	}
	if !m.Acquire("acme") {
		t.Fatal("third Acquire should succeed after raising the cap")
	}
	if m.Acquire("acme") {
		t.Fatal("fourth Acquire should fail")
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(0, TenantConfig{TenantID: "acme", RateLimit: 1, RateBurst: 1})

	if !m.Acquire("acme") {
		t.Fatal("first Acquire should consume the burst token")
	}
	m.Release("acme")
	if m.Acquire("acme") {
		t.Fatal("second immediate Acquire should be throttled")
	}
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(0, TenantConfig{TenantID: "acme", RateLimit: 0.5, RateBurst: 3})

	for i := range 3 {
		if !m.Acquire("acme") {
			t.Fatalf("Acquire %d within burst should succeed", i)
		}
	}
	if m.Acquire("acme") {
		t.Fatal("Acquire beyond burst should be throttled")
	}
}

func TestManager_CapCheckedBeforeLimiter(t *testing.T) {
	m := NewManager(0, TenantConfig{TenantID: "acme", MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 2})

	if !m.Acquire("acme") {
		t.Fatal("first Acquire should succeed")
	}
	// Rejected on the cap; must not spend the second token.
	if m.Acquire("acme") {
		t.Fatal("second Acquire should fail on the cap")
	}
	m.Release("acme")
	if !m.Acquire("acme") {
		t.Fatal("remaining burst token should still be available")
	}
}

// ---------------------------------------------------------------------------
// Edge cases
// ---------------------------------------------------------------------------

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(1)
	m.Release("acme")
	m.Release("never-seen")
	if m.ActiveCount("acme") != 0 {
		t.Fatal("Release must not underflow")
	}
	if !m.Acquire("acme") {
		t.Fatal("Acquire should succeed")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(0, TenantConfig{TenantID: "acme", MaxConcurrency: 4})

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		peak    atomic.Int32
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !m.Acquire("acme") {
				time.Sleep(time.Millisecond)
			}
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			m.Release("acme")
		}()
	}
	wg.Wait()

	if peak.Load() > 4 {
		t.Fatalf("peak concurrency %d exceeded cap 4", peak.Load())
	}
	if m.ActiveCount("acme") != 0 {
		t.Fatalf("expected 0 active at end, got %d", m.ActiveCount("acme"))
	}
}
