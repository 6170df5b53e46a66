package cli

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/docbatch/journal"
	"github.com/xraph/docbatch/journal/postgres"
	"github.com/xraph/docbatch/journal/redis"
)

// openJournal connects the configured backend. It returns a nil journal
// for the "none" backend. The returned close function is never nil.
func openJournal(ctx context.Context, cfg JournalConfig, logger *slog.Logger) (journal.Journal, func() error, error) {
	noop := func() error { return nil }
	codec := journal.GetCodec(cfg.Codec)

	switch cfg.Backend {
	case "", "none":
		return nil, noop, nil

	case "memory":
		return journal.NewMemory(codec), noop, nil

	case "postgres":
		j, err := postgres.New(ctx, cfg.DSN,
			postgres.WithLogger(logger),
			postgres.WithCodec(codec),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := j.Migrate(ctx); err != nil {
			_ = j.Close()
			return nil, nil, fmt.Errorf("migrate journal: %w", err)
		}
		return j, j.Close, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		j := redis.New(client,
			redis.WithLogger(logger),
			redis.WithCodec(codec),
		)
		if err := j.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return j, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}
