package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/docbatch/ext"
	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.BatchCreated   = (*Broker)(nil)
	_ ext.BatchQueued    = (*Broker)(nil)
	_ ext.BatchStarted   = (*Broker)(nil)
	_ ext.BatchPaused    = (*Broker)(nil)
	_ ext.BatchResumed   = (*Broker)(nil)
	_ ext.BatchFinished  = (*Broker)(nil)
	_ ext.BatchCancelled = (*Broker)(nil)
	_ ext.BatchDeleted   = (*Broker)(nil)
	_ ext.FileSucceeded  = (*Broker)(nil)
	_ ext.FileFailed     = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements ext hooks to
// receive lifecycle events and fans them out to subscribers via
// topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. Subscribing with
// an ID already in use replaces the previous subscriber, which is closed.
// Invalid topics are logged and skipped.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			b.logger.Warn("stream: skipping topic",
				slog.String("subscriber_id", subscriberID),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

func (b *Broker) publish(typ EventType, tenantID, batchID string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("stream: marshal event data",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}
	evt := &Event{
		ID:        id.NewEventID().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     BatchTopic(batchID),
		TenantID:  tenantID,
		Data:      payload,
	}

	topics := resolveTopics(evt)
	targets := b.topics.audience(topics)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	if dropped := targets - delivered; dropped > 0 {
		b.totalDropped.Add(int64(dropped))
	}
}

func batchData(j *job.Job) BatchEventData {
	return BatchEventData{
		BatchID:        j.ID.String(),
		Name:           j.Name,
		UserID:         j.UserID,
		Status:         string(j.Status),
		Priority:       string(j.Priority),
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		FailedFiles:    j.FailedFiles,
		Progress:       j.Progress,
	}
}

// ── Batch lifecycle hooks ───────────────────────────

// OnBatchCreated implements ext.BatchCreated.
func (b *Broker) OnBatchCreated(_ context.Context, j *job.Job) error {
	b.publish(EventBatchCreated, j.TenantID, j.ID.String(), batchData(j))
	return nil
}

// OnBatchQueued implements ext.BatchQueued.
func (b *Broker) OnBatchQueued(_ context.Context, j *job.Job) error {
	b.publish(EventBatchQueued, j.TenantID, j.ID.String(), batchData(j))
	return nil
}

// OnBatchStarted implements ext.BatchStarted.
func (b *Broker) OnBatchStarted(_ context.Context, j *job.Job) error {
	b.publish(EventBatchStarted, j.TenantID, j.ID.String(), batchData(j))
	return nil
}

// OnBatchPaused implements ext.BatchPaused.
func (b *Broker) OnBatchPaused(_ context.Context, j *job.Job) error {
	d := batchData(j)
	d.Reason = j.PauseReason
	b.publish(EventBatchPaused, j.TenantID, j.ID.String(), d)
	return nil
}

// OnBatchResumed implements ext.BatchResumed.
func (b *Broker) OnBatchResumed(_ context.Context, j *job.Job) error {
	b.publish(EventBatchResumed, j.TenantID, j.ID.String(), batchData(j))
	return nil
}

// OnBatchFinished implements ext.BatchFinished.
func (b *Broker) OnBatchFinished(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := batchData(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventBatchFinished, j.TenantID, j.ID.String(), d)
	return nil
}

// OnBatchCancelled implements ext.BatchCancelled.
func (b *Broker) OnBatchCancelled(_ context.Context, j *job.Job, from job.Status) error {
	d := batchData(j)
	d.From = string(from)
	b.publish(EventBatchCancelled, j.TenantID, j.ID.String(), d)
	return nil
}

// OnBatchDeleted implements ext.BatchDeleted.
func (b *Broker) OnBatchDeleted(_ context.Context, j *job.Job) error {
	b.publish(EventBatchDeleted, j.TenantID, j.ID.String(), batchData(j))
	return nil
}

// ── File lifecycle hooks ────────────────────────────

// OnFileSucceeded implements ext.FileSucceeded.
func (b *Broker) OnFileSucceeded(_ context.Context, j *job.Job, f *job.File, elapsed time.Duration) error {
	b.publish(EventFileSucceeded, j.TenantID, j.ID.String(), FileEventData{
		BatchID:    j.ID.String(),
		FileID:     f.ID.String(),
		SourcePath: f.Ref(),
		Attempts:   f.Attempts,
		Progress:   j.Progress,
		ElapsedMs:  elapsed.Milliseconds(),
	})
	return nil
}

// OnFileFailed implements ext.FileFailed.
func (b *Broker) OnFileFailed(_ context.Context, j *job.Job, f *job.File, fileErr error) error {
	b.publish(EventFileFailed, j.TenantID, j.ID.String(), FileEventData{
		BatchID:    j.ID.String(),
		FileID:     f.ID.String(),
		SourcePath: f.Ref(),
		Attempts:   f.Attempts,
		Progress:   j.Progress,
		Error:      fileErr.Error(),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown. Every subscriber channel is closed.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber ids
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
