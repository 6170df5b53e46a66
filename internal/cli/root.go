// Package cli provides the command-line interface for docbatch.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// app holds what PersistentPreRunE resolves for the subcommands.
type app struct {
	cfg      Config
	k        *koanf.Koanf
	logger   *slog.Logger
	closeLog func() error
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// NewRootCommand builds the docbatch command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "docbatch",
		Short: "Batch document processing scheduler",
		Long: `docbatch groups documents into batch jobs and processes them with a
bounded worker pool, honoring job priority and per-tenant concurrency caps.

Configuration is read from defaults, an optional YAML file (--config),
DOCBATCH_ environment variables and flags, later sources winning.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, k, err := loadConfig(cmd.Flags(), path)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.k, a.logger, a.closeLog = cfg, k, logger, closeLog
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.closeLog != nil {
				if err := a.closeLog(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
				}
			}
		},
	}

	bindFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(a),
		newConfigCmd(a),
		newHistoryCmd(a),
	)
	return root
}
