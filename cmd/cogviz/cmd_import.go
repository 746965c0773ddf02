package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/jobs"
	"github.com/Steake/GodelOS-sub005/domain/imports"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/di"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

var (
	subtle       = color.New(color.FgHiBlack)
	statusColors = map[imports.Status]*color.Color{
		imports.StatusQueued:     color.New(color.FgCyan),
		imports.StatusProcessing: color.New(color.FgYellow),
		imports.StatusCompleted:  color.New(color.FgGreen, color.Bold),
		imports.StatusFailed:     color.New(color.FgRed, color.Bold),
		imports.StatusCancelled:  color.New(color.FgHiBlack),
		imports.StatusLost:       color.New(color.FgRed),
	}
)

const cancelOnInterruptTimeout = 5 * time.Second

func newImportCmd(root *rootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Submit knowledge imports and follow their progress",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "import service URL, overriding the configuration")

	load := func() (*config.Config, error) {
		overrides := map[string]string{}
		if baseURL != "" {
			overrides["IMPORT_BASE_URL"] = baseURL
		}
		cfg, _, err := root.load(overrides)
		return cfg, err
	}

	cmd.AddCommand(newImportSubmitCmd(load), newImportWatchCmd(load))
	return cmd
}

func newImportSubmitCmd(load func() (*config.Config, error)) *cobra.Command {
	var source imports.Source
	var contentFile string
	var detach bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start an import and follow it until it finishes",
		Example: "  cogviz import submit --type url --location https://example.com/paper.pdf\n" +
			"  cogviz import submit --type text --content-file notes.txt --name notes",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return pkgerrors.NewValidationError("cannot read content file").WithCause(err)
				}
				source.Content = string(data)
			}

			tracker, logger, err := newImportTracker(load)
			if err != nil {
				return err
			}
			defer tracker.Close()

			out := cmd.OutOrStdout()
			updates, stop := followJobs(tracker, out)
			defer stop()

			ctx := cmd.Context()
			id, err := tracker.Submit(ctx, source)
			if err != nil {
				return err
			}
			logger.Debug("Import submitted", zap.String("importId", id))
			if detach {
				fmt.Fprintln(out, id)
				return nil
			}
			return waitForJobs(ctx, tracker, updates, out, id)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&source.Kind, "type", "url", "source type: url, file or text")
	flags.StringVar(&source.Location, "location", "", "URL or path of the source")
	flags.StringVar(&source.Content, "content", "", "inline text for --type text")
	flags.StringVar(&contentFile, "content-file", "", "read the text for --type text from a file")
	flags.StringVar(&source.Name, "name", "", "display name of the import")
	flags.BoolVar(&detach, "detach", false, "print the import id and return without waiting")
	return cmd
}

func newImportWatchCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <import-id>...",
		Short: "Follow imports started earlier until they finish",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, _, err := newImportTracker(load)
			if err != nil {
				return err
			}
			defer tracker.Close()

			out := cmd.OutOrStdout()
			updates, stop := followJobs(tracker, out)
			defer stop()

			ctx := cmd.Context()
			for _, id := range args {
				if err := tracker.Track(ctx, id); err != nil {
					return err
				}
			}
			return waitForJobs(ctx, tracker, updates, out, args...)
		},
	}
}

func newImportTracker(load func() (*config.Config, error)) (*jobs.Tracker, *zap.Logger, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Import.BaseURL == "" {
		return nil, nil, pkgerrors.NewValidationError("no import service configured; set --base-url or COGVIZ_IMPORT_BASE_URL")
	}
	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	metrics := di.ProvideMetrics(cfg)
	// One-shot commands do not export spans
	api, err := di.ProvideImportAPI(cfg, logger, metrics, nil)
	if err != nil {
		return nil, nil, err
	}
	return di.ProvideTracker(api, cfg, logger, metrics), logger, nil
}

// followJobs prints every job change and signals the waiter. The returned
// function unsubscribes.
func followJobs(tracker *jobs.Tracker, out io.Writer) (<-chan struct{}, func()) {
	updates := make(chan struct{}, 1)
	var mu sync.Mutex
	unsubscribe := tracker.Subscribe(func(job imports.Job) {
		mu.Lock()
		printJob(out, job)
		mu.Unlock()
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	return updates, unsubscribe
}

// waitForJobs returns once every job is terminal. An interrupt cancels the
// jobs still running.
func waitForJobs(ctx context.Context, tracker *jobs.Tracker, updates <-chan struct{}, out io.Writer, ids ...string) error {
	for {
		done, failed := 0, 0
		for _, id := range ids {
			job, ok := tracker.Job(id)
			if !ok || job.Status.Terminal() {
				done++
			}
			if ok && (job.Status == imports.StatusFailed || job.Status == imports.StatusLost) {
				failed++
			}
		}
		if done == len(ids) {
			if failed > 0 {
				return pkgerrors.NewInternalError(fmt.Sprintf("%d of %d imports did not complete", failed, len(ids)))
			}
			return nil
		}

		select {
		case <-updates:
		case <-ctx.Done():
			cancelRunning(tracker, out, ids)
			return ctx.Err()
		}
	}
}

func cancelRunning(tracker *jobs.Tracker, out io.Writer, ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelOnInterruptTimeout)
	defer cancel()
	for _, id := range ids {
		if job, ok := tracker.Job(id); ok && !job.Status.Terminal() {
			if err := tracker.Cancel(ctx, id); err != nil {
				subtle.Fprintf(out, "cancel %s: %v\n", id, err)
			}
		}
	}
}

func printJob(out io.Writer, job imports.Job) {
	c, ok := statusColors[job.Status]
	if !ok {
		c = subtle
	}
	name := job.Source.Name
	if name == "" {
		name = job.Source.Location
	}
	line := fmt.Sprintf("%s  %s  %5.1f%%", job.ID, c.Sprintf("%-10s", job.Status), job.ProgressPercent)
	if name != "" {
		line += "  " + name
	}
	if job.Cancelling && !job.Status.Terminal() {
		line += "  " + subtle.Sprint("cancelling")
	}
	if job.Error != "" {
		line += "  " + statusColors[imports.StatusFailed].Sprint(job.Error)
	}
	fmt.Fprintln(out, line)
}
