package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/journal"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeConfig(cmd.OutOrStdout(), a)
		},
	}
}

func writeConfig(w io.Writer, a *app) error {
	out, err := yaml.Marshal(a.k.Raw())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <batch-id>",
		Short: "Print the journaled transitions of a batch job",
		Long: `History replays a batch job's records from a persistent journal
(postgres or redis), including jobs that have since been deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := id.ParseBatchID(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}
			switch a.cfg.Journal.Backend {
			case "postgres", "redis":
			default:
				return errors.New("history needs a persistent journal: set --journal to postgres or redis")
			}

			ctx := cmd.Context()
			jrnl, closeJournal, err := openJournal(ctx, a.cfg.Journal, a.logger)
			if err != nil {
				return err
			}
			defer closeJournal() //nolint:errcheck // read-only use

			records, err := jrnl.Replay(ctx, batchID)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), records)
		},
	}
}

func writeHistory(w io.Writer, records []*journal.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tKIND\tFROM\tTO\tFILE\tERROR")
	for _, r := range records {
		to := string(r.To)
		if r.Kind == journal.KindFile {
			to = string(r.FileStatus)
		}
		file := ""
		if !r.FileID.IsNil() {
			file = r.FileID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.At.Format(time.RFC3339), r.Kind, r.From, to, file, r.Error)
	}
	return tw.Flush()
}
