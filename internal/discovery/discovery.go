// Package discovery finds sequencing runs that are ready for upload.
//
// A run is a directory holding a sample sheet. Discovery looks at the root
// and its immediate children, silently skips runs carrying the complete
// marker, resolves each sample's sequence files and runs the offline checks.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/sheet"
	"github.com/seqlab/run-uploader/internal/state"
	"github.com/seqlab/run-uploader/internal/validation"
)

// Options configures a discovery pass.
type Options struct {
	SheetName      string // sample sheet file name
	SequenceSubdir string // sequence file location relative to the run directory
	MaxDepth       int    // directory levels searched, root counts as one
}

// DefaultOptions returns the instrument defaults.
func DefaultOptions() Options {
	return Options{
		SheetName:      constants.SheetFileName,
		SequenceSubdir: constants.SequenceSubdir,
		MaxDepth:       constants.MaxDiscoveryDepth,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SheetName == "" {
		o.SheetName = d.SheetName
	}
	if o.SequenceSubdir == "" {
		o.SequenceSubdir = d.SequenceSubdir
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	return o
}

// RunError is one run that failed to load or validate.
type RunError struct {
	Dir string
	Err error
}

// DiscoveryError lists the runs that were found but are not uploadable.
type DiscoveryError struct {
	Failures []RunError
}

func (e *DiscoveryError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Err.Error()
	}
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Err.Error()
	}
	return fmt.Sprintf("%d runs failed validation:\n  %s", len(e.Failures), strings.Join(msgs, "\n  "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *DiscoveryError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Candidates returns the directories under root (within maxDepth levels)
// that hold a file called sheetName, sorted and excluding completed runs.
func Candidates(root, sheetName string, maxDepth int) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			// Unreadable subdirectories are not runs we can upload.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if depth(root, path) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != sheetName {
			return nil
		}
		dir := filepath.Dir(path)
		if state.IsComplete(dir) {
			return nil
		}
		dirs = append(dirs, dir)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// Discover returns every valid run under root. Runs that fail to parse or
// validate are returned together in a *DiscoveryError alongside the valid ones.
func Discover(ctx context.Context, root string, opts Options) ([]*models.Run, error) {
	opts = opts.withDefaults()

	dirs, err := Candidates(root, opts.SheetName, opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	var runs []*models.Run
	var failures []RunError
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		run, err := FindRun(dir, opts)
		if err != nil {
			failures = append(failures, RunError{Dir: dir, Err: err})
			continue
		}
		runs = append(runs, run)
	}

	if len(failures) > 0 {
		return runs, &DiscoveryError{Failures: failures}
	}
	return runs, nil
}

// FindRun loads the run in dir, resolves its sequence files and runs the
// offline checks. The complete marker is not consulted.
func FindRun(dir string, opts Options) (*models.Run, error) {
	opts = opts.withDefaults()

	run, err := sheet.Load(filepath.Join(dir, opts.SheetName))
	if err != nil {
		return nil, err
	}
	if err := ResolveFiles(run, opts.SequenceSubdir); err != nil {
		return nil, err
	}
	if err := validation.OfflineError(run); err != nil {
		return nil, err
	}
	return run, nil
}

// ResolveFiles assigns each sample the sequence files whose names start with
// "<sample name>_", sorted so that R1 precedes R2. Files are looked up in
// subdir of the run directory, or in the run directory itself when subdir
// does not exist. Count and pairing problems are left to validation.
func ResolveFiles(run *models.Run, subdir string) error {
	dir := run.Dir()
	if subdir != "" {
		candidate := filepath.Join(run.Dir(), filepath.FromSlash(subdir))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dir = candidate
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list sequence files in %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), constants.SequenceFileSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, s := range run.Samples() {
		s.Files = nil
		if s.Name == "" {
			continue
		}
		prefix := s.Name + "_"
		for _, n := range names {
			if strings.HasPrefix(n, prefix) {
				s.Files = append(s.Files, filepath.Join(dir, n))
			}
		}
	}
	return nil
}
