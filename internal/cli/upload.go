package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/seqlab/run-uploader/internal/api"
	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/logging"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/progress"
	"github.com/seqlab/run-uploader/internal/upload"
)

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "upload <directory>...",
		Short: "Upload one or more runs",
		Long: `Upload sequencing runs. Each argument is either a run directory (holding a
sample sheet) or a directory searched for runs.

Samples of one run are uploaded in sheet order; several runs may upload at
once (see --concurrency). A run that failed or was interrupted resumes with
the first sample the server has not confirmed.

Examples:
  run-uploader upload /data/miseq/191004_M01234_0001
  run-uploader upload --concurrency 4 /data/miseq`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			if cmd.Flags().Changed("concurrency") {
				cfg.Uploader.MaxConcurrentRuns = concurrency
			}
			if n := cfg.Uploader.MaxConcurrentRuns; n < 1 || n > constants.MaxMaxConcurrentRuns {
				return fmt.Errorf("--concurrency must be between 1 and %d, got %d", constants.MaxMaxConcurrentRuns, n)
			}
			ctx := GetContext()

			runs, failures, err := loadRuns(ctx, args, discoveryOptions(cfg))
			if err != nil {
				return err
			}
			if len(failures) > 0 {
				printFailures(cmd.ErrOrStderr(), failures)
			}
			if len(runs) == 0 {
				if len(failures) > 0 {
					return fmt.Errorf("no uploadable runs (%d failed validation)", len(failures))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "No runs to upload")
				return nil
			}

			client, err := getAPIClient(ctx, cfg)
			if err != nil {
				return err
			}

			results, err := uploadRuns(ctx, client, runs, cfg.Uploader.MaxConcurrentRuns, GetLogger())
			printUploadSummary(cmd, results)
			if err == nil && len(failures) > 0 {
				err = fmt.Errorf("%d run(s) failed validation", len(failures))
			}
			return err
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", constants.DefaultMaxConcurrentRuns, "Number of runs uploaded at once")
	return cmd
}

// runOutcome pairs a run with its upload result.
type runOutcome struct {
	run    *models.Run
	result *upload.Result
	err    error
}

// uploadRuns uploads runs with at most limit in flight. A failing run does
// not stop its siblings; the returned error summarises the failures.
func uploadRuns(ctx context.Context, gateway api.Gateway, runs []*models.Run, limit int, logger *logging.Logger) ([]runOutcome, error) {
	orch := upload.New(gateway, upload.WithLogger(logger))
	outcomes := make([]runOutcome, len(runs))

	if len(runs) == 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		run := runs[0]
		total := pendingBytes(run, logger)
		bar := progress.NewCLIProgress(total, filepath.Base(run.Dir()))
		res, err := orch.Upload(ctx, run, bar)
		bar.Finish(err)
		outcomes[0] = runOutcome{run: run, result: res, err: err}
		return outcomes, collectFailures(outcomes)
	}

	bars := progress.NewRunBars(len(runs))
	prev := logger.Output()
	logger.SetOutput(bars.Writer())
	defer logger.SetOutput(prev)

	var g errgroup.Group
	g.SetLimit(limit)
	var mu sync.Mutex
	for i, run := range runs {
		g.Go(func() error {
			total := pendingBytes(run, logger)
			bar := bars.AddRun(run.Dir(), total)
			res, err := orch.Upload(ctx, run, bar)
			bar.Complete(summaryOf(res), err)

			mu.Lock()
			outcomes[i] = runOutcome{run: run, result: res, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	bars.Wait()
	return outcomes, collectFailures(outcomes)
}

// pendingBytes sizes the progress bar for run. On error the bar starts
// without a total and the upload itself reports the underlying problem.
func pendingBytes(run *models.Run, logger *logging.Logger) int64 {
	total, err := upload.PendingBytes(run)
	if err != nil {
		logger.Warn().Err(err).Str("run", run.Dir()).Msg("Could not size pending upload")
		return 0
	}
	return total
}

func summaryOf(res *upload.Result) string {
	if res == nil {
		return ""
	}
	if len(res.Skipped) > 0 {
		return fmt.Sprintf("%d samples (%d resumed)", len(res.Uploaded), len(res.Skipped))
	}
	return fmt.Sprintf("%d samples", len(res.Uploaded))
}

func collectFailures(outcomes []runOutcome) error {
	var failed []runOutcome
	for _, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o)
		}
	}
	switch len(failed) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("upload of %s failed: %w", failed[0].run.Dir(), failed[0].err)
	}
	return fmt.Errorf("%d of %d run(s) failed (first error: %v)", len(failed), len(outcomes), failed[0].err)
}

func printUploadSummary(cmd *cobra.Command, outcomes []runOutcome) {
	out := cmd.OutOrStdout()
	for _, o := range outcomes {
		if o.err == nil {
			if o.result != nil {
				fmt.Fprintf(out, "✓ %s → run %s (%s)\n", o.run.Dir(), o.result.RunID, summaryOf(o.result))
			}
			continue
		}
		fmt.Fprintf(out, "✗ %s: %v\n", o.run.Dir(), o.err)
		if upload.IsRetryable(o.err) {
			fmt.Fprintf(out, "  Run the same command again to resume this run.\n")
		}
	}
}
