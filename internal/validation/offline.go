// Package validation checks runs before and during upload.
//
// Offline checks (sheet structure, file pairing, sample list) need only local
// data and collect every problem they find. Online checks query the remote
// service for project and sample existence.
//
// Every check returns a fresh models.ValidationResult and never panics.
package validation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/sheet"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// Pairing markers. A file containing R1 must have a sibling with R1 replaced by R2.
const (
	markerR1 = "R1"
	markerR2 = "R2"
)

// ValidateSheetStructure checks that a sheet declares [Header] and [Data] and
// that the data header row carries every required column.
func ValidateSheetStructure(r io.Reader) models.ValidationResult {
	s, err := sheet.Parse(r)
	if err != nil {
		return models.NewValidationResult([]string{err.Error()})
	}

	var errs []string
	if !s.HasSection(sheet.SectionHeader) {
		errs = append(errs, "sample sheet is missing the [Header] section")
	}
	if !s.HasSection(sheet.SectionData) {
		errs = append(errs, "sample sheet is missing the [Data] section")
		return models.NewValidationResult(errs)
	}

	declared := make(map[string]bool, len(s.RawColumns))
	for _, c := range s.RawColumns {
		declared[c] = true
	}
	for _, col := range sheet.RequiredColumns {
		if !declared[col] {
			errs = append(errs, fmt.Sprintf("[Data] section is missing required column %s", col))
		}
	}
	return models.NewValidationResult(errs)
}

// ValidateSheetFile runs ValidateSheetStructure on the sheet at path.
func ValidateSheetFile(path string) models.ValidationResult {
	f, err := os.Open(path)
	if err != nil {
		return models.NewValidationResult([]string{fmt.Sprintf("cannot open sample sheet %s: %v", path, err)})
	}
	defer f.Close()
	return ValidateSheetStructure(f)
}

// ValidatePairing checks that files form complete R1/R2 pairs: an even,
// non-zero count of distinct files, each with its sibling present.
//
// Matching is a literal replacement of R1 with R2 (and back) in the base
// name, so a name that also contains R1 inside another token may pair
// unexpectedly. The input slice is not modified and the errors are sorted, so
// the result does not depend on input order.
func ValidatePairing(files []string) models.ValidationResult {
	if len(files) == 0 {
		return models.NewValidationResult([]string{"no sequence files to pair"})
	}

	count := make(map[string]int, len(files))
	for _, f := range files {
		count[f]++
	}

	var errs []string
	for f, n := range count {
		dir, base := filepath.Split(f)
		if n > 1 {
			errs = append(errs, fmt.Sprintf("%s is listed %d times", base, n))
		}
		switch {
		case strings.Contains(base, markerR1):
			sibling := strings.ReplaceAll(base, markerR1, markerR2)
			if count[dir+sibling] == 0 {
				errs = append(errs, fmt.Sprintf("%s has no matching %s file %s", base, markerR2, sibling))
			}
		case strings.Contains(base, markerR2):
			sibling := strings.ReplaceAll(base, markerR2, markerR1)
			if count[dir+sibling] == 0 {
				errs = append(errs, fmt.Sprintf("%s has no matching %s file %s", base, markerR1, sibling))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s has neither an %s nor an %s marker", base, markerR1, markerR2))
		}
	}
	// An odd count is reported only when no file-level error accounts for it.
	if len(errs) == 0 && len(files)%2 != 0 {
		errs = append(errs, fmt.Sprintf("%d sequence files cannot form pairs", len(files)))
	}
	sort.Strings(errs)
	return models.NewValidationResult(errs)
}

// ValidateSampleList checks that every sample has a usable name and a
// project id.
func ValidateSampleList(samples []*models.Sample) models.ValidationResult {
	if len(samples) == 0 {
		return models.NewValidationResult([]string{"sample list is empty"})
	}

	var errs []string
	for i, s := range samples {
		row := i + 1
		if s.ProjectID == "" {
			errs = append(errs, fmt.Sprintf("sample %d (%s) has no project id", row, s.Name))
		}
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sample %d has no sample name", row))
		} else if err := ValidateSampleName(s.Name); err != nil {
			errs = append(errs, fmt.Sprintf("sample %d: %v", row, err))
		}
	}
	return models.NewValidationResult(errs)
}

// ValidateSampleFiles checks the files resolved for each sample against the
// run layout: a pair for paired-end runs, exactly one file otherwise.
func ValidateSampleFiles(run *models.Run) models.ValidationResult {
	var errs []string
	for _, s := range run.Samples() {
		if run.Paired() {
			if len(s.Files) > 2 {
				errs = append(errs, fmt.Sprintf("sample %s: paired-end run expects 2 sequence files, found %d", s.Name, len(s.Files)))
				continue
			}
			res := ValidatePairing(s.Files)
			for _, e := range res.Errors {
				errs = append(errs, fmt.Sprintf("sample %s: %s", s.Name, e))
			}
			continue
		}
		if len(s.Files) != 1 {
			errs = append(errs, fmt.Sprintf("sample %s: single-end run expects 1 sequence file, found %d", s.Name, len(s.Files)))
		}
	}
	return models.NewValidationResult(errs)
}

type offlineCheck struct {
	kind   uploaderr.Kind
	result models.ValidationResult
}

func offlineChecks(run *models.Run) []offlineCheck {
	return []offlineCheck{
		{uploaderr.KindStructural, ValidateSheetFile(run.SheetPath())},
		{uploaderr.KindSampleList, ValidateSampleList(run.Samples())},
		{uploaderr.KindPairing, ValidateSampleFiles(run)},
	}
}

// ValidateRunOffline merges every offline check for run.
func ValidateRunOffline(run *models.Run) models.ValidationResult {
	out := models.NewValidationResult(nil)
	for _, c := range offlineChecks(run) {
		out = out.Merge(c.result)
	}
	return out
}

// OfflineError runs the offline checks and returns nil when the run is valid.
// Otherwise the error takes the kind of the first failing check and lists
// every problem found.
func OfflineError(run *models.Run) error {
	var kind uploaderr.Kind
	var errs []string
	for _, c := range offlineChecks(run) {
		if c.result.Valid {
			continue
		}
		if kind == "" {
			kind = c.kind
		}
		errs = append(errs, c.result.Errors...)
	}
	if kind == "" {
		return nil
	}
	return uploaderr.New(kind, "%s: %s", run.Dir(), strings.Join(errs, "; "))
}
