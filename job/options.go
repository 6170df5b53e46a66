package job

import (
	"fmt"
	"maps"
	"strings"

	"github.com/xraph/docbatch"
	"github.com/xraph/docbatch/id"
)

// FileInput references one document of a creation request.
type FileInput struct {
	SourcePath string `json:"source_path,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// CreateRequest describes a batch job to create.
type CreateRequest struct {
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	TenantID          string         `json:"tenant_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	DocumentType      string         `json:"document_type,omitempty"`
	ProcessingOptions map[string]any `json:"processing_options,omitempty"`
	Priority          Priority       `json:"priority,omitempty"`
	Files             []FileInput    `json:"files"`

	// AutoQueue enqueues the job right after creation.
	AutoQueue bool `json:"auto_queue,omitempty"`
}

// Limits bounds what New accepts.
type Limits struct {
	// MaxFiles rejects requests with more files. Zero means no limit.
	MaxFiles int
	// DefaultPriority applies when the request has none.
	DefaultPriority Priority
}

// New validates req and builds a job in the created state with all files
// pending. Validation failures wrap docbatch.ErrValidation.
func New(req CreateRequest, limits Limits) (*Job, error) {
	if len(req.Files) == 0 {
		return nil, docbatch.ErrNoFiles
	}
	if limits.MaxFiles > 0 && len(req.Files) > limits.MaxFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", docbatch.ErrTooManyFiles, len(req.Files), limits.MaxFiles)
	}

	priority := req.Priority
	if priority == "" {
		priority = limits.DefaultPriority
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w %q", docbatch.ErrInvalidPriority, priority)
	}

	files := make([]File, 0, len(req.Files))
	for i, in := range req.Files {
		src := strings.TrimSpace(in.SourcePath)
		doc := strings.TrimSpace(in.DocumentID)
		if src == "" && doc == "" {
			return nil, fmt.Errorf("%w (file %d)", docbatch.ErrInvalidFile, i)
		}
		files = append(files, File{
			ID:         id.NewFileID(),
			SourcePath: src,
			DocumentID: doc,
			Status:     FilePending,
		})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("batch of %d files", len(files))
	}

	j := &Job{
		Entity:            docbatch.NewEntity(),
		ID:                id.NewBatchID(),
		Name:              name,
		Description:       req.Description,
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		DocumentType:      req.DocumentType,
		ProcessingOptions: maps.Clone(req.ProcessingOptions),
		Priority:          priority,
		Status:            StatusCreated,
		Files:             files,
	}
	j.Recount()
	return j, nil
}
