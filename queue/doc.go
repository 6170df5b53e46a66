// Package queue holds queued batch jobs and gates their admission.
//
// [PriorityQueue] orders job ids by priority tier (urgent, high, medium,
// low) and then by enqueue order. Enqueueing a job id that is already
// present is a no-op, so callers can enqueue freely.
//
//	q := queue.NewPriorityQueue()
//	q.Enqueue(queue.Item{JobID: j.ID.String(), Priority: j.Priority, TenantID: j.TenantID})
//	it, ok := q.DequeueFunc(func(it queue.Item) bool { return m.Acquire(it.TenantID) })
//
// # Manager
//
// [Manager] enforces per-tenant limits at dequeue time. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate for concurrency limits.
//
//	m := queue.NewManager(2, queue.TenantConfig{TenantID: "acme", MaxConcurrency: 5})
//	if m.Acquire(tenantID) {
//	    defer m.Release(tenantID)
//	    // run the job
//	}
//
// Jobs without a tenant are never capped by the Manager; the pool-wide
// concurrency still applies.
package queue
