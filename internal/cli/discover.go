package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/discovery"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/progress"
)

// newDiscoverCmd creates the 'discover' command.
func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [directory]",
		Short: "List the uploadable runs under a directory",
		Long: `Search a directory (and its immediate subdirectories) for sequencing runs
that have a sample sheet and have not been uploaded yet. Every run found is
checked offline; runs that fail are listed with their errors.

Without an argument the configured watch_directory is searched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			root := cfg.Uploader.WatchDirectory
			if len(args) == 1 {
				root = args[0]
			}
			if root == "" {
				return fmt.Errorf("no directory given and watch_directory is not configured")
			}

			runs, err := discovery.Discover(GetContext(), root, discoveryOptions(cfg))
			var derr *discovery.DiscoveryError
			if err != nil && !errors.As(err, &derr) {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 && derr == nil {
				fmt.Fprintf(out, "No runs to upload under %s\n", root)
				return nil
			}
			printRuns(out, runs)
			if derr != nil {
				fmt.Fprintln(out)
				printFailures(out, derr.Failures)
				return fmt.Errorf("%d run(s) are not uploadable", len(derr.Failures))
			}
			return nil
		},
	}
	return cmd
}

func printRuns(w io.Writer, runs []*models.Run) {
	if len(runs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tLAYOUT\tSAMPLES\tFILES\tSIZE")
	for _, r := range runs {
		size, err := progress.TotalSize(r.Files())
		sizeText := humanize.IBytes(uint64(size))
		if err != nil {
			sizeText = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Dir(), layoutOf(r), len(r.Samples()), len(r.Files()), sizeText)
	}
	tw.Flush()
}

func printFailures(w io.Writer, failures []discovery.RunError) {
	for _, f := range failures {
		fmt.Fprintf(w, "✗ %s\n    %v\n", f.Dir, f.Err)
	}
}

func layoutOf(r *models.Run) string {
	if l := r.Metadata().Layout; l != "" {
		return string(l)
	}
	return "-"
}

// loadRuns turns command arguments into runs. An argument holding a sample
// sheet is loaded as one run; any other directory is searched for runs.
// Failures are collected; the runs that loaded are returned with them.
func loadRuns(ctx context.Context, args []string, opts discovery.Options) ([]*models.Run, []discovery.RunError, error) {
	var runs []*models.Run
	var failures []discovery.RunError
	for _, arg := range args {
		dir, err := filepath.Abs(arg)
		if err != nil {
			return nil, nil, err
		}
		if _, err := os.Stat(filepath.Join(dir, opts.SheetName)); err == nil {
			run, err := discovery.FindRun(dir, opts)
			if err != nil {
				failures = append(failures, discovery.RunError{Dir: dir, Err: err})
				continue
			}
			runs = append(runs, run)
			continue
		}

		found, err := discovery.Discover(ctx, dir, opts)
		var derr *discovery.DiscoveryError
		switch {
		case errors.As(err, &derr):
			failures = append(failures, derr.Failures...)
		case err != nil:
			return nil, nil, err
		}
		runs = append(runs, found...)
	}
	return runs, failures, nil
}
