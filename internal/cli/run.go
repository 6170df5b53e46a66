package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/docbatch/engine"
	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/processor"
	"github.com/xraph/docbatch/stream"
)

type runOptions struct {
	name         string
	description  string
	tenant       string
	user         string
	priority     string
	documentType string
	options      map[string]string
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run <path>...",
		Short: "Process files as one batch job and wait for the result",
		Long: `Run creates a batch job from the given files, queues it and processes it
with the local file processor. Directory arguments contribute their regular
files. Progress is logged as files resolve; the final summary is printed as
YAML. Interrupting the command stops the processor, which pauses the job.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, a, o, args, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.name, "name", "n", "", "batch job name")
	f.StringVar(&o.description, "description", "", "batch job description")
	f.StringVar(&o.tenant, "tenant", "", "owning tenant")
	f.StringVar(&o.user, "user", "", "owning user")
	f.StringVarP(&o.priority, "priority", "p", "", "priority (low, medium, high, urgent)")
	f.StringVar(&o.documentType, "document-type", "", "document type label")
	f.StringToStringVarP(&o.options, "option", "o", nil, "processing option key=value (repeatable)")

	return cmd
}

func runBatch(ctx context.Context, a *app, o runOptions, paths []string, out io.Writer) error {
	files, err := collectFiles(paths)
	if err != nil {
		return err
	}

	jrnl, closeJournal, err := openJournal(ctx, a.cfg.Journal, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(); err != nil {
			a.logger.Warn("close journal", slog.String("error", err.Error()))
		}
	}()

	broker := stream.NewBroker(a.logger)
	opts := []engine.Option{
		engine.WithConfig(a.cfg.Config),
		engine.WithLogger(a.logger),
		engine.WithExtension(broker),
	}
	if jrnl != nil {
		opts = append(opts, engine.WithJournal(jrnl))
	}

	eng, err := engine.New(processor.NewLocal(a.cfg.Root, processor.WithLogger(a.logger)), opts...)
	if err != nil {
		return err
	}

	var priority job.Priority
	if o.priority != "" {
		if priority, err = job.ParsePriority(o.priority); err != nil {
			return err
		}
	}

	req := job.CreateRequest{
		Name:         o.name,
		Description:  o.description,
		TenantID:     o.tenant,
		UserID:       o.user,
		DocumentType: o.documentType,
		Priority:     priority,
		Files:        files,
	}
	if len(o.options) > 0 {
		req.ProcessingOptions = make(map[string]any, len(o.options))
		for k, v := range o.options {
			req.ProcessingOptions[k] = v
		}
	}

	j, err := eng.CreateBatchJob(ctx, req)
	if err != nil {
		return err
	}

	subID := "cli-" + j.ID.String()
	sub := broker.Subscribe(subID, stream.BatchTopic(j.ID.String()))
	defer broker.RemoveSubscriber(subID)

	if _, err := eng.QueueBatchJob(ctx, j.ID, engine.QueueOptions{}); err != nil {
		return err
	}
	if err := eng.StartProcessor(ctx); err != nil {
		return err
	}

	follow(ctx, a.logger, sub)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout+a.cfg.PollInterval)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown", slog.String("error", err.Error()))
	}

	final, err := eng.GetBatchJob(context.WithoutCancel(ctx), j.ID)
	if err != nil {
		return err
	}
	if err := writeReport(out, final); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: batch %s left %s", final.ID, final.Status)
	}
	return nil
}

// follow logs the job's events until it finishes, is cancelled, or ctx
// ends.
func follow(ctx context.Context, logger *slog.Logger, sub *stream.Subscriber) {
	for {
		evt, ok := sub.Next(ctx)
		if !ok {
			return
		}
		sub.AddCredits(1)

		switch evt.Type {
		case stream.EventFileSucceeded, stream.EventFileFailed:
			var d stream.FileEventData
			if err := evt.Decode(&d); err != nil {
				continue
			}
			attrs := []any{
				slog.String("file", d.SourcePath),
				slog.Int("attempts", d.Attempts),
				slog.Int("progress", d.Progress),
			}
			if evt.Type == stream.EventFileFailed {
				logger.Warn("file failed", append(attrs, slog.String("error", d.Error))...)
			} else {
				logger.Info("file processed", append(attrs, slog.Int64("elapsed_ms", d.ElapsedMs))...)
			}

		default:
			var d stream.BatchEventData
			if err := evt.Decode(&d); err != nil {
				continue
			}
			logger.Info(string(evt.Type),
				slog.String("batch_id", d.BatchID),
				slog.String("status", d.Status),
				slog.Int("progress", d.Progress),
			)
			if evt.Type == stream.EventBatchFinished || evt.Type == stream.EventBatchCancelled {
				return
			}
		}
	}
}

// collectFiles expands paths into absolute file inputs. Directories
// contribute their regular files, non-recursively, in name order.
func collectFiles(paths []string) ([]job.FileInput, error) {
	var files []job.FileInput
	for _, p := range paths {
		p, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, job.FileInput{SourcePath: p})
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, job.FileInput{SourcePath: filepath.Join(p, e.Name())})
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found in %v", paths)
	}
	return files, nil
}

type report struct {
	BatchID   string        `yaml:"batch_id"`
	Name      string        `yaml:"name"`
	Status    string        `yaml:"status"`
	Total     int           `yaml:"total_files"`
	Succeeded int           `yaml:"succeeded_files"`
	Failed    int           `yaml:"failed_files"`
	Pending   int           `yaml:"pending_files"`
	Duration  string        `yaml:"duration,omitempty"`
	Errors    []reportError `yaml:"errors,omitempty"`
}

type reportError struct {
	File  string `yaml:"file"`
	Error string `yaml:"error"`
}

func newReport(j *job.Job) report {
	r := report{
		BatchID: j.ID.String(),
		Name:    j.Name,
		Status:  string(j.Status),
		Total:   j.TotalFiles,
		Failed:  j.FailedFiles,
		Pending: j.TotalFiles - j.ProcessedFiles,
	}
	r.Succeeded = j.ProcessedFiles - j.FailedFiles
	if s := j.Summary; s != nil {
		r.Succeeded, r.Failed, r.Pending = s.SucceededFiles, s.FailedFiles, s.PendingFiles
		r.Duration = s.Duration.String()
		for _, e := range s.Errors {
			r.Errors = append(r.Errors, reportError{File: e.SourcePath, Error: e.Error})
		}
	}
	return r
}

func writeReport(w io.Writer, j *job.Job) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newReport(j)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
