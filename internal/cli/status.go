package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/sheet"
	"github.com/seqlab/run-uploader/internal/state"
)

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [directory...]",
		Short: "Show the local upload state of runs",
		Long: `Show what the uploader has recorded for each run: the remote run id, its
upload status and how many samples the server has confirmed.

An argument may be a run directory or a directory holding runs. Without
arguments the configured watch_directory is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			if len(args) == 0 {
				if cfg.Uploader.WatchDirectory == "" {
					return fmt.Errorf("no directory given and watch_directory is not configured")
				}
				args = []string{cfg.Uploader.WatchDirectory}
			}
			sheetName := discoveryOptions(cfg).SheetName

			var dirs []string
			for _, arg := range args {
				found, err := runDirs(arg, sheetName)
				if err != nil {
					return err
				}
				dirs = append(dirs, found...)
			}
			if len(dirs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
				return nil
			}
			printStatus(cmd.OutOrStdout(), dirs, sheetName)
			return nil
		},
	}
	return cmd
}

// runDirs returns dir itself when it holds a sample sheet, otherwise its
// immediate subdirectories that do.
func runDirs(dir, sheetName string) ([]string, error) {
	if hasFile(dir, sheetName) {
		return []string{dir}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var dirs []string
	for _, e := range entries {
		sub := filepath.Join(dir, e.Name())
		if e.IsDir() && hasFile(sub, sheetName) {
			dirs = append(dirs, sub)
		}
	}
	return dirs, nil
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func printStatus(w io.Writer, dirs []string, sheetName string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tREMOTE ID\tSAMPLES\tUPDATED")
	for _, dir := range dirs {
		total := "?"
		if run, err := sheet.Load(filepath.Join(dir, sheetName)); err == nil {
			total = fmt.Sprintf("%d", len(run.Samples()))
		}

		rec, err := state.NewStore(dir).Load()
		switch {
		case err != nil:
			fmt.Fprintf(tw, "%s\tunreadable\t-\t-\t%v\n", dir, err)
		case rec == nil:
			status := "waiting"
			if hasFile(dir, constants.InstrumentCompleteMarker) {
				status = "new"
			}
			if state.IsComplete(dir) {
				status = "COMPLETE"
			}
			fmt.Fprintf(tw, "%s\t%s\t-\t0/%s\t-\n", dir, status, total)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%s\t%s\n", dir, rec.Status, rec.RunID,
				len(rec.UploadedSamples), total, humanize.Time(rec.UpdatedAt))
		}
	}
	tw.Flush()
}
