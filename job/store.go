package job

import (
	"context"

	"github.com/xraph/docbatch/id"
)

// SortField selects the ordering key for ListJobs.
type SortField string

const (
	SortByCreatedAt   SortField = "created_at"
	SortByUpdatedAt   SortField = "updated_at"
	SortByQueuedAt    SortField = "queued_at"
	SortByStartedAt   SortField = "started_at"
	SortByCompletedAt SortField = "completed_at"
	SortByPriority    SortField = "priority"
)

// SortOrder is the direction of a ListJobs ordering.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListOpts controls filtering, ordering and pagination for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// UserID filters by user. Empty means all users.
	UserID string
	// DocumentType filters by document type. Empty means all types.
	DocumentType string

	// SortBy defaults to created_at.
	SortBy SortField
	// Order defaults to descending (newest first).
	Order SortOrder

	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Match reports whether j passes the filters of o.
func (o ListOpts) Match(j *Job) bool {
	if o.Status != "" && j.Status != o.Status {
		return false
	}
	if o.TenantID != "" && j.TenantID != o.TenantID {
		return false
	}
	if o.UserID != "" && j.UserID != o.UserID {
		return false
	}
	if o.DocumentType != "" && j.DocumentType != o.DocumentType {
		return false
	}
	return true
}

// MutateFunc changes a job inside Store.UpdateJob. Returning an error
// discards every change made by the function.
type MutateFunc func(j *Job) error

// Store defines the persistence contract for batch jobs.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.BatchID) (*Job, error)

	// ListJobs returns a snapshot of the jobs matching opts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// UpdateJob applies fn to the job atomically and returns the committed
	// state. Updates to the same job are serialized; fn must not call back
	// into the store.
	UpdateJob(ctx context.Context, jobID id.BatchID, fn MutateFunc) (*Job, error)

	// DeleteJob removes a job and its files. Active jobs (queued or
	// processing) are rejected unless force is set.
	DeleteJob(ctx context.Context, jobID id.BatchID, force bool) error
}
