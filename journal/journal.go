// Package journal keeps an append-only history of batch job transitions
// and file outcomes. The journal is written from extension hooks and read
// back per batch for auditing; it is never replayed into the live store.
package journal

import (
	"context"
	"time"

	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
)

// Kind classifies a journal record.
type Kind string

const (
	// KindCreated records the creation of a batch job.
	KindCreated Kind = "created"
	// KindTransition records a job status change.
	KindTransition Kind = "transition"
	// KindFile records a resolved file.
	KindFile Kind = "file"
	// KindDeleted records the removal of a batch job.
	KindDeleted Kind = "deleted"
)

// Record is one journal entry.
type Record struct {
	ID       id.RecordID `json:"id"`
	BatchID  id.BatchID  `json:"batch_id"`
	TenantID string      `json:"tenant_id,omitempty"`
	Kind     Kind        `json:"kind"`

	// From and To are set on transition records. Created records carry
	// only To; deleted records carry only From.
	From job.Status `json:"from,omitempty"`
	To   job.Status `json:"to,omitempty"`

	// FileID, FileStatus and Error are set on file records.
	FileID     id.FileID      `json:"file_id,omitzero"`
	FileStatus job.FileStatus `json:"file_status,omitempty"`
	Error      string         `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// NewRecord returns a record for j stamped with a fresh id and the current
// time.
func NewRecord(kind Kind, j *job.Job) *Record {
	return &Record{
		ID:       id.NewRecordID(),
		BatchID:  j.ID,
		TenantID: j.TenantID,
		Kind:     kind,
		At:       time.Now().UTC(),
	}
}

// Writer appends records.
type Writer interface {
	Append(ctx context.Context, r *Record) error
}

// Reader returns the records of one batch in append order.
type Reader interface {
	Replay(ctx context.Context, batchID id.BatchID) ([]*Record, error)
}

// Journal is a readable journal backend.
type Journal interface {
	Writer
	Reader
}
