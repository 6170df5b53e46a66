package docbatch

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the scheduler matches exactly
// one of these with errors.Is.
var (
	// ErrValidation marks a malformed creation or queue request.
	ErrValidation = errors.New("docbatch: validation failed")
	// ErrNotFound marks an unknown job id.
	ErrNotFound = errors.New("docbatch: not found")
	// ErrConflict marks an illegal state transition or a request that
	// conflicts with the job's current state.
	ErrConflict = errors.New("docbatch: conflict")
	// ErrProcessing marks a per-file failure reported by the processor.
	ErrProcessing = errors.New("docbatch: processing failed")
)

var (
	// Validation errors.
	ErrNoFiles         = fmt.Errorf("%w: at least one file is required", ErrValidation)
	ErrInvalidFile     = fmt.Errorf("%w: file needs a source path or document id", ErrValidation)
	ErrInvalidPriority = fmt.Errorf("%w: unknown priority", ErrValidation)
	ErrTooManyFiles    = fmt.Errorf("%w: too many files", ErrValidation)
	ErrInvalidID       = fmt.Errorf("%w: malformed id", ErrValidation)

	// Not found errors.
	ErrJobNotFound  = fmt.Errorf("%w: batch job", ErrNotFound)
	ErrFileNotFound = fmt.Errorf("%w: file", ErrNotFound)

	// Conflict errors.
	ErrJobAlreadyExists  = fmt.Errorf("%w: batch job already exists", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrConflict)
	ErrJobActive         = fmt.Errorf("%w: batch job is still active", ErrConflict)
	ErrJobNotRunning     = fmt.Errorf("%w: batch job is not processing", ErrConflict)
	ErrFileNotInFlight   = fmt.Errorf("%w: file is not being processed", ErrConflict)
	ErrFilesUnresolved   = fmt.Errorf("%w: batch job has unresolved files", ErrConflict)

	// Journal errors.
	ErrNoJournal = errors.New("docbatch: no readable journal configured")
)

// ProcessingError is a per-file failure surfaced by the processor. It is
// recorded on the file and in the job summary; it never escapes the worker.
type ProcessingError struct {
	FileID ID
	Err    error
}

// NewProcessingError wraps err for the given file. A nil err yields nil.
func NewProcessingError(fileID ID, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessingError{FileID: fileID, Err: err}
}

func (e *ProcessingError) Error() string {
	if e.FileID.IsNil() {
		return fmt.Sprintf("docbatch: processing failed: %v", e.Err)
	}
	return fmt.Sprintf("docbatch: processing file %s failed: %v", e.FileID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Is reports whether target is the ErrProcessing category.
func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }
