package job

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/id"
)

// Pause reasons recorded on paused jobs.
const (
	PauseRequested = "paused by request"
	PauseStopped   = "processor stopped"
)

// Job is a batch of files processed together.
type Job struct {
	docbatch.Entity

	ID                id.BatchID     `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	TenantID          string         `json:"tenant_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	DocumentType      string         `json:"document_type,omitempty"`
	ProcessingOptions map[string]any `json:"processing_options,omitempty"`
	Priority          Priority       `json:"priority"`
	Status            Status         `json:"status"`
	Files             []File         `json:"files"`
	TotalFiles        int            `json:"total_files"`
	ProcessedFiles    int            `json:"processed_files"`
	FailedFiles       int            `json:"failed_files"`
	Progress          int            `json:"progress"`
	Summary           *Summary       `json:"summary,omitempty"`
	QueuedAt          *time.Time     `json:"queued_at,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	PausedAt          *time.Time     `json:"paused_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	PauseReason       string         `json:"pause_reason,omitempty"`
}

// File is one document inside a batch job.
type File struct {
	ID          id.FileID  `json:"id"`
	SourcePath  string     `json:"source_path,omitempty"`
	DocumentID  string     `json:"document_id,omitempty"`
	Status      FileStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ref returns the most specific reference to the file's content.
func (f *File) Ref() string {
	if f.SourcePath != "" {
		return f.SourcePath
	}
	return f.DocumentID
}

// Result is the processor's output handle for a succeeded file.
type Result struct {
	Handle   string            `json:"handle"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary describes a job once it reaches a terminal state.
type Summary struct {
	TotalFiles     int           `json:"total_files"`
	SucceededFiles int           `json:"succeeded_files"`
	FailedFiles    int           `json:"failed_files"`
	PendingFiles   int           `json:"pending_files"`
	Errors         []FileError   `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// FileError pairs a failed file with its error description.
type FileError struct {
	FileID     id.FileID `json:"file_id"`
	SourcePath string    `json:"source_path,omitempty"`
	Error      string    `json:"error"`
}

// Clone returns a deep copy of the job. Stores hand out clones so callers
// never share mutable state with the registry.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.ProcessingOptions = maps.Clone(j.ProcessingOptions)
	cp.Files = make([]File, len(j.Files))
	for i, f := range j.Files {
		if f.Result != nil {
			r := *f.Result
			r.Metadata = maps.Clone(f.Result.Metadata)
			f.Result = &r
		}
		cp.Files[i] = f
	}
	if j.Summary != nil {
		s := *j.Summary
		s.Errors = append([]FileError(nil), j.Summary.Errors...)
		cp.Summary = &s
	}
	return &cp
}

// FileIndex returns the position of the file with the given id, or -1.
func (j *Job) FileIndex(fileID id.FileID) int {
	key := fileID.String()
	for i := range j.Files {
		if j.Files[i].ID.String() == key {
			return i
		}
	}
	return -1
}

// File returns a pointer into the job's file slice, or nil.
func (j *Job) File(fileID id.FileID) *File {
	if i := j.FileIndex(fileID); i >= 0 {
		return &j.Files[i]
	}
	return nil
}

// PendingFiles returns the ids of pending files in stored order.
func (j *Job) PendingFiles() []id.FileID {
	out := make([]id.FileID, 0, len(j.Files))
	for i := range j.Files {
		if j.Files[i].Status == FilePending {
			out = append(out, j.Files[i].ID)
		}
	}
	return out
}

// Unresolved counts files that are pending or in flight.
func (j *Job) Unresolved() int {
	n := 0
	for i := range j.Files {
		if !j.Files[i].Status.Resolved() {
			n++
		}
	}
	return n
}

// Recount recomputes the derived counters from file statuses.
func (j *Job) Recount() {
	processed, failed := 0, 0
	for i := range j.Files {
		switch j.Files[i].Status {
		case FileSucceeded:
			processed++
		case FileFailed:
			processed++
			failed++
		}
	}
	j.TotalFiles = len(j.Files)
	j.ProcessedFiles = processed
	j.FailedFiles = failed
	j.Progress = progressPercent(processed, j.TotalFiles)
}

func progressPercent(processed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}

// Transition moves the job to status to, stamping lifecycle timestamps.
// It fails with docbatch.ErrInvalidTransition when the state machine does
// not allow the move.
func (j *Job) Transition(to Status, now time.Time) error {
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", docbatch.ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.Touch(now)

	t := now
	switch to {
	case StatusQueued:
		j.QueuedAt = &t
		j.PausedAt = nil
		j.PauseReason = ""
	case StatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &t
		}
	case StatusPaused:
		j.PausedAt = &t
	}
	if to.IsTerminal() {
		j.CompletedAt = &t
	}
	return nil
}

// OutcomeStatus derives the terminal status from file outcomes: failed
// when nothing succeeded, completed when nothing failed, and
// partially_failed otherwise.
func (j *Job) OutcomeStatus() Status {
	succeeded := j.ProcessedFiles - j.FailedFiles
	switch {
	case succeeded == 0:
		return StatusFailed
	case j.FailedFiles == 0:
		return StatusCompleted
	default:
		return StatusPartiallyFailed
	}
}

// BuildSummary aggregates file outcomes into a Summary. Every failed file
// is listed in Errors.
func (j *Job) BuildSummary() *Summary {
	s := &Summary{
		TotalFiles: len(j.Files),
		Errors:     []FileError{},
	}
	for i := range j.Files {
		f := &j.Files[i]
		switch f.Status {
		case FileSucceeded:
			s.SucceededFiles++
		case FileFailed:
			s.FailedFiles++
			s.Errors = append(s.Errors, FileError{FileID: f.ID, SourcePath: f.Ref(), Error: f.Error})
		default:
			s.PendingFiles++
		}
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		s.Duration = j.CompletedAt.Sub(*j.StartedAt)
	}
	return s
}
