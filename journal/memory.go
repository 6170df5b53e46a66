package journal

import (
	"context"
	"sync"

	"github.com/xraph/docbatch/id"
)

var _ Journal = (*Memory)(nil)

// Memory is an in-process journal. Records are kept encoded so a replay
// returns independent copies.
type Memory struct {
	mu      sync.RWMutex
	codec   Codec
	batches map[string][][]byte
}

// NewMemory creates an empty in-process journal using codec. A nil codec
// uses msgpack.
func NewMemory(codec Codec) *Memory {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &Memory{codec: codec, batches: make(map[string][][]byte)}
}

// Append implements Writer.
func (m *Memory) Append(_ context.Context, r *Record) error {
	data, err := m.codec.Encode(r)
	if err != nil {
		return err
	}
	key := r.BatchID.String()

	m.mu.Lock()
	m.batches[key] = append(m.batches[key], data)
	m.mu.Unlock()
	return nil
}

// Replay implements Reader.
func (m *Memory) Replay(_ context.Context, batchID id.BatchID) ([]*Record, error) {
	m.mu.RLock()
	entries := m.batches[batchID.String()]
	m.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, data := range entries {
		r, err := m.codec.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Len returns the total number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entries := range m.batches {
		n += len(entries)
	}
	return n
}
