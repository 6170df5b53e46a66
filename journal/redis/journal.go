// Package redis implements journal.Journal on Redis Streams. Each batch job
// gets its own stream, appended with XADD and read back with XRANGE.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	j := redisjournal.New(client)
//	if err := j.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/journal"
)

// Compile-time interface check.
var _ journal.Journal = (*Journal)(nil)

// Option configures the Journal.
type Option func(*Journal)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithCodec sets the payload codec. The default is msgpack.
func WithCodec(c journal.Codec) Option {
	return func(j *Journal) { j.codec = c }
}

// WithMaxLen caps each batch stream at roughly n entries. Zero keeps
// everything.
func WithMaxLen(n int64) Option {
	return func(j *Journal) { j.maxLen = n }
}

// Journal is a Redis Streams journal backend.
type Journal struct {
	client redis.Cmdable
	codec  journal.Codec
	maxLen int64
	logger *slog.Logger
}

// New creates a Redis-backed journal. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Journal {
	j := &Journal{client: client, codec: journal.MsgpackCodec{}, logger: slog.Default()}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Client returns the underlying Redis client.
func (j *Journal) Client() redis.Cmdable { return j.client }

// Ping verifies the Redis connection is alive.
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Append implements journal.Writer.
func (j *Journal) Append(ctx context.Context, r *journal.Record) error {
	payload, err := j.codec.Encode(r)
	if err != nil {
		return fmt.Errorf("docbatch/redis: encode record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: journalKey(r.BatchID.String()),
		Values: map[string]any{
			"id":     r.ID.String(),
			"kind":   string(r.Kind),
			"codec":  j.codec.Name(),
			"record": payload,
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("docbatch/redis: append: %w", err)
	}
	return nil
}

// Replay implements journal.Reader.
func (j *Journal) Replay(ctx context.Context, batchID id.BatchID) ([]*journal.Record, error) {
	msgs, err := j.client.XRange(ctx, journalKey(batchID.String()), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("docbatch/redis: replay: %w", err)
	}

	out := make([]*journal.Record, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["record"].(string)
		if !ok {
			j.logger.Warn("journal entry without record", slog.String("stream_id", msg.ID))
			continue
		}
		codecName, _ := msg.Values["codec"].(string)
		r, err := journal.GetCodec(codecName).Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("docbatch/redis: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Trim deletes the stream of a batch.
func (j *Journal) Trim(ctx context.Context, batchID id.BatchID) error {
	if err := j.client.Del(ctx, journalKey(batchID.String())).Err(); err != nil {
		return fmt.Errorf("docbatch/redis: trim: %w", err)
	}
	return nil
}
