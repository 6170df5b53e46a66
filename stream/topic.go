package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	batch:<batchID>    events for a specific batch job and its files
//	tenant:<tenantID>  all events for a tenant's jobs
//	batches            all batch lifecycle events
//	files              all file outcome events
//	firehose           everything

const (
	TopicBatches  = "batches"
	TopicFiles    = "files"
	TopicFirehose = "firehose"
)

// BatchTopic returns the topic name for a specific batch job.
func BatchTopic(batchID string) string { return "batch:" + batchID }

// TenantTopic returns the topic name for a tenant.
func TenantTopic(tenantID string) string { return "tenant:" + tenantID }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds a subscriber to a topic, creating the topic on demand.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Empty topics are dropped.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from all topics.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast sends an event to every subscriber on any of the topics.
// A subscriber on several of the topics receives the event once.
// It returns the number of subscribers that received the event.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic an event is published to.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch {
	case strings.HasPrefix(string(evt.Type), "batch."):
		topics = append(topics, TopicBatches)
	case strings.HasPrefix(string(evt.Type), "file."):
		topics = append(topics, TopicFiles)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	if evt.TenantID != "" {
		topics = append(topics, TenantTopic(evt.TenantID))
	}
	return topics
}

// ParseTopicEntity extracts the entity type and ID from a topic string.
// For example, "batch:batch_abc123" returns ("batch", "batch_abc123").
// Returns ("", "") for global topics like "batches" or "firehose".
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicBatches, TopicFiles, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch entityType {
	case "batch", "tenant":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
}

// audience counts the distinct subscribers on any of the topics.
func (tr *TopicRegistry) audience(topics []string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, topic := range topics {
		for id := range tr.topics[topic] {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
