package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/discovery"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/sheet"
	"github.com/seqlab/run-uploader/internal/validation"
)

// newValidateCmd creates the 'validate' command.
func newValidateCmd() *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "validate <run-directory>",
		Short: "Check a run without uploading it",
		Long: `Check a run directory offline: sample sheet structure, sample list,
and the sequence files of every sample (count and R1/R2 pairing).

With --online the projects referenced by the sheet are also looked up on
the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			opts := discoveryOptions(cfg)
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			result, run := validateOffline(dir, opts)
			report(out, "Offline checks", result)
			if !result.Valid {
				return fmt.Errorf("%s failed validation", dir)
			}

			if online {
				ctx := GetContext()
				client, err := getAPIClient(ctx, cfg)
				if err != nil {
					return err
				}
				result = validation.NewOnline(client).ValidateRunOnline(ctx, run)
				report(out, "Online checks", result)
				if !result.Valid {
					return fmt.Errorf("%s failed online validation", dir)
				}
			}
			fmt.Fprintf(out, "✓ %s is ready to upload (%d samples)\n", dir, len(run.Samples()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "Also check the referenced projects on the server")
	return cmd
}

// validateOffline runs every offline check on the run in dir. The run is
// returned when its sheet could be loaded.
func validateOffline(dir string, opts discovery.Options) (models.ValidationResult, *models.Run) {
	path := filepath.Join(dir, opts.SheetName)
	result := validation.ValidateSheetFile(path)
	if !result.Valid {
		return result, nil
	}

	run, err := sheet.Load(path)
	if err != nil {
		return models.NewValidationResult([]string{err.Error()}), nil
	}
	if err := discovery.ResolveFiles(run, opts.SequenceSubdir); err != nil {
		return models.NewValidationResult([]string{err.Error()}), run
	}
	return result.Merge(validation.ValidateRunOffline(run)), run
}

func report(w io.Writer, title string, r models.ValidationResult) {
	if r.Valid {
		fmt.Fprintf(w, "%s: OK\n", title)
		return
	}
	fmt.Fprintf(w, "%s: %d problem(s)\n", title, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
