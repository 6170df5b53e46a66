// Package stream provides a real-time event broker for batch lifecycle
// events. It bridges the ext hook system to in-process subscribers via
// topic-based pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Batch events.
	EventBatchCreated   EventType = "batch.created"
	EventBatchQueued    EventType = "batch.queued"
	EventBatchStarted   EventType = "batch.started"
	EventBatchPaused    EventType = "batch.paused"
	EventBatchResumed   EventType = "batch.resumed"
	EventBatchFinished  EventType = "batch.finished"
	EventBatchCancelled EventType = "batch.cancelled"
	EventBatchDeleted   EventType = "batch.deleted"

	// File events.
	EventFileSucceeded EventType = "file.succeeded"
	EventFileFailed    EventType = "file.failed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// ID uniquely identifies the event ("evt_..." TypeID).
	ID string `json:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the batch topic this event belongs to.
	Topic string `json:"topic"`

	// TenantID is the owning tenant, empty for anonymous jobs.
	TenantID string `json:"tenant_id,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// BatchEventData is the payload for batch lifecycle events.
type BatchEventData struct {
	BatchID        string `json:"batch_id"`
	Name           string `json:"name"`
	UserID         string `json:"user_id,omitempty"`
	Status         string `json:"status"`
	From           string `json:"from,omitempty"`
	Priority       string `json:"priority"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	FailedFiles    int    `json:"failed_files"`
	Progress       int    `json:"progress"`
	Reason         string `json:"reason,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
}

// FileEventData is the payload for file outcome events.
type FileEventData struct {
	BatchID    string `json:"batch_id"`
	FileID     string `json:"file_id"`
	SourcePath string `json:"source_path,omitempty"`
	Attempts   int    `json:"attempts"`
	Progress   int    `json:"progress"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
