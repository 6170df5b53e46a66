package cli

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/xraph/docbatch"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: DOCBATCH_LOG__LEVEL sets log.level.
const EnvPrefix = "DOCBATCH_"

// Config is the CLI configuration: the scheduler settings plus the
// sections only the command line needs.
type Config struct {
	docbatch.Config `koanf:",squash" yaml:",inline"`

	// Root resolves relative source paths and document ids.
	Root string `koanf:"root" yaml:"root"`

	Log     LogConfig     `koanf:"log" yaml:"log"`
	Journal JournalConfig `koanf:"journal" yaml:"journal"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
	// File, when set, receives a JSON copy of every record.
	File string `koanf:"file" yaml:"file"`
}

// JournalConfig selects the transition journal backend.
type JournalConfig struct {
	// Backend is one of none, memory, postgres or redis.
	Backend string `koanf:"backend" yaml:"backend"`
	// DSN is a postgres connection string or a redis URL.
	DSN string `koanf:"dsn" yaml:"dsn"`
	// Codec names the record encoding (json or msgpack).
	Codec string `koanf:"codec" yaml:"codec"`
}

// defaultsMap lists every key with its default. Durations are stored as
// strings so the effective configuration prints the way users write it.
func defaultsMap() map[string]any {
	d := docbatch.DefaultConfig()
	return map[string]any{
		"concurrency":                d.Concurrency,
		"file_concurrency":           d.FileConcurrency,
		"poll_interval":              d.PollInterval.String(),
		"shutdown_timeout":           d.ShutdownTimeout.String(),
		"default_priority":           d.DefaultPriority,
		"max_files_per_job":          d.MaxFilesPerJob,
		"file_retries":               d.FileRetries,
		"file_timeout":               d.FileTimeout.String(),
		"default_tenant_concurrency": d.DefaultTenantConcurrency,
		"retention_period":           d.RetentionPeriod.String(),
		"cleanup_schedule":           d.CleanupSchedule,
		"root":                       ".",
		"log.level":                  "info",
		"log.file":                   "",
		"journal.backend":            "none",
		"journal.dsn":                "",
		"journal.codec":              "json",
	}
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"concurrency":      "concurrency",
	"file-concurrency": "file_concurrency",
	"file-retries":     "file_retries",
	"root":             "root",
	"log-level":        "log.level",
	"log-file":         "log.file",
	"journal":          "journal.backend",
	"journal-dsn":      "journal.dsn",
	"journal-codec":    "journal.codec",
}

// bindFlags registers the configuration flags on fs.
func bindFlags(fs *pflag.FlagSet) {
	d := docbatch.DefaultConfig()
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.Int("concurrency", d.Concurrency, "number of batch jobs processed at once")
	fs.Int("file-concurrency", d.FileConcurrency, "files processed at once within a job")
	fs.Int("file-retries", d.FileRetries, "retries for a failed file")
	fs.String("root", ".", "directory relative paths resolve against")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "also write JSON logs to this file")
	fs.String("journal", "none", "journal backend (none, memory, postgres, redis)")
	fs.String("journal-dsn", "", "journal connection string")
	fs.String("journal-codec", "json", "journal record codec (json, msgpack)")
}

// loadConfig merges, lowest precedence first, the defaults, the YAML file
// at path, DOCBATCH_ environment variables and the flags the user set.
func loadConfig(fs *pflag.FlagSet, path string) (Config, *koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return Config{}, nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, nil, fmt.Errorf("load environment: %w", err)
	}

	if fs != nil {
		p := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, k, nil
}

// envKey turns DOCBATCH_LOG__LEVEL into log.level.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the scheduler settings and the CLI sections.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	switch c.Journal.Backend {
	case "", "none", "memory":
	case "postgres", "redis":
		if c.Journal.DSN == "" {
			return fmt.Errorf("%w: journal backend %q needs a dsn", docbatch.ErrValidation, c.Journal.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown journal backend %q", docbatch.ErrValidation, c.Journal.Backend)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
