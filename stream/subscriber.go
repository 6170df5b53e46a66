package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to.
// It uses credit-based flow control: each delivered event costs one
// credit, and the broker skips the subscriber while credits are zero.
// Delivery never blocks the publisher; events are dropped when the
// buffer is full.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	filter atomic.Pointer[func(*Event) bool]
	closed atomic.Bool
	// sendMu orders sends against Close so a send never hits a closed channel.
	sendMu sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the
// subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Next blocks until an event arrives, the channel closes, or ctx is done.
// The boolean is false once no more events will arrive.
func (s *Subscriber) Next(ctx context.Context) (*Event, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case evt, ok := <-s.ch:
		return evt, ok
	}
}

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter sets an optional predicate; only matching events are delivered.
// A nil fn clears the filter.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event. It returns false if the event was
// dropped (closed, filtered out, no credits, or full buffer).
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closed.Load() {
		return false
	}
	if fn := s.filter.Load(); fn != nil && !(*fn)(evt) {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full, restore credit.
		s.credits.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
