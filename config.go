package docbatch

import (
	"fmt"
	"time"
)

// Config holds configuration for the batch scheduler.
type Config struct {
	// Concurrency is the number of worker goroutines, and so the maximum
	// number of batch jobs processed at once.
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`

	// FileConcurrency bounds how many files of a single job are processed
	// concurrently.
	FileConcurrency int `koanf:"file_concurrency" yaml:"file_concurrency"`

	// PollInterval is how long an idle worker waits before looking at the
	// queue again when no wake signal arrives.
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`

	// ShutdownTimeout is the maximum time StopProcessor waits for
	// in-flight files before abandoning them.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`

	// DefaultPriority applies to jobs created without a priority.
	DefaultPriority string `koanf:"default_priority" yaml:"default_priority"`

	// MaxFilesPerJob rejects larger creation requests. Zero means no limit.
	MaxFilesPerJob int `koanf:"max_files_per_job" yaml:"max_files_per_job"`

	// FileRetries is how many times a failed file is retried before the
	// failure is recorded.
	FileRetries int `koanf:"file_retries" yaml:"file_retries"`

	// FileTimeout bounds a single processing attempt. Zero leaves timing
	// to the processor.
	FileTimeout time.Duration `koanf:"file_timeout" yaml:"file_timeout"`

	// DefaultTenantConcurrency caps concurrent jobs for any tenant without
	// an explicit tenant configuration. Zero means no cap. Anonymous jobs
	// (empty tenant) are never capped.
	DefaultTenantConcurrency int `koanf:"default_tenant_concurrency" yaml:"default_tenant_concurrency"`

	// RetentionPeriod is the age after which terminal jobs are removed by
	// the periodic cleanup. Zero disables the periodic cleanup.
	RetentionPeriod time.Duration `koanf:"retention_period" yaml:"retention_period"`

	// CleanupSchedule is a cron expression or descriptor (e.g. "@every 1h")
	// for the periodic cleanup.
	CleanupSchedule string `koanf:"cleanup_schedule" yaml:"cleanup_schedule"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:              4,
		FileConcurrency:          3,
		PollInterval:             1 * time.Second,
		ShutdownTimeout:          30 * time.Second,
		DefaultPriority:          "medium",
		MaxFilesPerJob:           1000,
		FileRetries:              0,
		FileTimeout:              0,
		DefaultTenantConcurrency: 0,
		RetentionPeriod:          7 * 24 * time.Hour,
		CleanupSchedule:          "@every 1h",
	}
}

// Validate reports configuration values the scheduler cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrValidation, c.Concurrency)
	case c.FileConcurrency <= 0:
		return fmt.Errorf("%w: file concurrency must be positive, got %d", ErrValidation, c.FileConcurrency)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrValidation)
	case c.FileRetries < 0:
		return fmt.Errorf("%w: file retries must not be negative", ErrValidation)
	case c.MaxFilesPerJob < 0:
		return fmt.Errorf("%w: max files per job must not be negative", ErrValidation)
	case c.DefaultTenantConcurrency < 0:
		return fmt.Errorf("%w: default tenant concurrency must not be negative", ErrValidation)
	}
	return nil
}
