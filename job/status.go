package job

import (
	"fmt"

	"github.com/xraph/docbatch"
)

// Status represents the lifecycle state of a batch job.
type Status string

const (
	// StatusCreated means the job exists but has not been queued.
	StatusCreated Status = "created"
	// StatusQueued means the job is waiting in the priority queue.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker is driving the job's files.
	StatusProcessing Status = "processing"
	// StatusPaused means processing was suspended; resume re-queues it.
	StatusPaused Status = "paused"
	// StatusCompleted means every file succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means no file succeeded.
	StatusFailed Status = "failed"
	// StatusPartiallyFailed means some files succeeded and some failed.
	StatusPartiallyFailed Status = "partially_failed"
	// StatusCancelled means the job was cancelled before finishing.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []Status{
	StatusCreated, StatusQueued, StatusProcessing, StatusPaused,
	StatusCompleted, StatusFailed, StatusPartiallyFailed, StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusCreated:    {StatusQueued},
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPartiallyFailed, StatusPaused, StatusCancelled},
	StatusPaused:     {StatusQueued, StatusCancelled},
}

// CanTransition reports whether moving from s to to is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the job is queued or processing. Active jobs
// cannot be deleted without force.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s.IsTerminal()
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", docbatch.ErrValidation, s)
	}
	return st, nil
}

// FileStatus represents the processing state of a single file.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileSucceeded  FileStatus = "succeeded"
	FileFailed     FileStatus = "failed"
)

// Resolved reports whether the file reached a final outcome.
func (s FileStatus) Resolved() bool {
	return s == FileSucceeded || s == FileFailed
}
