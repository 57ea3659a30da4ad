// Package models defines data structures for sequencing runs and their samples.
package models

import (
	"errors"
	"fmt"
	"path/filepath"
)

// RunStatus mirrors the remote sequencing run upload status.
type RunStatus string

const (
	// RunStatusUploading means the remote run exists and samples are being transferred.
	RunStatusUploading RunStatus = "UPLOADING"
	// RunStatusComplete is terminal: every sample was confirmed by the server.
	RunStatusComplete RunStatus = "COMPLETE"
	// RunStatusError is terminal for one attempt; a later upload resumes from the record.
	RunStatusError RunStatus = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusUploading, RunStatusComplete, RunStatusError:
		return true
	}
	return false
}

// Layout is the read layout declared by the [Reads] section.
type Layout string

const (
	LayoutSingleEnd Layout = "SINGLE_END"
	LayoutPairedEnd Layout = "PAIRED_END"
)

// RunMetadata holds the parsed header region of a sample sheet.
type RunMetadata struct {
	Workflow        string
	Chemistry       string
	ReadLength      int   // primary read length
	ExtraReadLength []int // additional read lengths, in sheet order
	Layout          Layout

	// Extra holds every other translated [Header]/[Settings] key.
	Extra map[string]string
}

// Set stores a translated header key. workflow and chemistry land in their
// typed fields; everything else goes to Extra.
func (m *RunMetadata) Set(key, value string) {
	switch key {
	case "workflow":
		m.Workflow = value
	case "chemistry":
		m.Chemistry = value
	default:
		if m.Extra == nil {
			m.Extra = map[string]string{}
		}
		m.Extra[key] = value
	}
}

// Map flattens the metadata into the key/value form sent when creating a remote run.
func (m RunMetadata) Map() map[string]string {
	out := make(map[string]string, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Workflow != "" {
		out["workflow"] = m.Workflow
	}
	if m.Chemistry != "" {
		out["chemistry"] = m.Chemistry
	}
	if m.ReadLength > 0 {
		out["readLengths"] = fmt.Sprintf("%d", m.ReadLength)
	}
	if m.Layout != "" {
		out["layoutType"] = string(m.Layout)
	}
	return out
}

// ErrEmptySheetPath is returned when a Run is constructed without a sheet path.
var ErrEmptySheetPath = errors.New("run requires a sample sheet path")

// Run is one sequencing instrument output directory.
type Run struct {
	sheetPath string
	dir       string
	metadata  RunMetadata
	samples   []*Sample
}

// NewRun creates a run rooted at the directory that holds sheetPath.
func NewRun(sheetPath string) (*Run, error) {
	if sheetPath == "" {
		return nil, ErrEmptySheetPath
	}
	return &Run{
		sheetPath: sheetPath,
		dir:       filepath.Dir(sheetPath),
	}, nil
}

// SheetPath returns the sample sheet location.
func (r *Run) SheetPath() string { return r.sheetPath }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// Metadata returns the parsed run metadata.
func (r *Run) Metadata() RunMetadata { return r.metadata }

// Samples returns the samples in sheet order.
func (r *Run) Samples() []*Sample { return r.samples }

// SetMetadata replaces the metadata; used while parsing.
func (r *Run) SetMetadata(m RunMetadata) { r.metadata = m }

// SetSamples replaces the sample list; used while parsing.
func (r *Run) SetSamples(samples []*Sample) { r.samples = samples }

// Paired reports whether the run declares paired-end reads.
func (r *Run) Paired() bool { return r.metadata.Layout == LayoutPairedEnd }

// SampleNames returns the sample identifiers in sheet order.
func (r *Run) SampleNames() []string {
	names := make([]string, 0, len(r.samples))
	for _, s := range r.samples {
		names = append(names, s.Name)
	}
	return names
}

// Files returns every local sequence file of the run, in sample order.
func (r *Run) Files() []string {
	var files []string
	for _, s := range r.samples {
		files = append(files, s.Files...)
	}
	return files
}
