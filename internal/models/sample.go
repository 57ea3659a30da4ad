package models

import (
	"fmt"
	"strings"
)

// Canonical record keys produced by the sheet parser's column translation.
const (
	KeySequencerID = "sequencerSampleId"
	KeySampleName  = "sampleName"
	KeyProject     = "sampleProject"
	KeyDescription = "description"
)

// CanonicalKeys lists the keys every data record must carry.
var CanonicalKeys = []string{KeySequencerID, KeySampleName, KeyProject, KeyDescription}

// IsCanonicalKey reports whether key is one of CanonicalKeys.
func IsCanonicalKey(key string) bool {
	for _, k := range CanonicalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Field is one column value of a data row.
type Field struct {
	Key   string
	Value string
}

// Record is one data row zipped against the column header row, in column order.
type Record []Field

// Get returns the value for key and whether it was present.
func (r Record) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the record keys in column order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Sample is one row of the sheet plus its resolved sequence files.
type Sample struct {
	Name        string // sample identifier, matched case-insensitively against the server
	SequencerID string
	ProjectID   string
	Description string

	// Properties are the non-canonical columns (plate, well, index sequences ...),
	// sent alongside the sequence files.
	Properties Record

	// Files holds 1 (single-end) or 2 (paired-end, R1 first) local paths.
	Files []string
}

// NewSample builds a Sample from a parsed data record. The record must carry
// every canonical key; values may still be empty and are reported by
// sample-list validation.
func NewSample(rec Record) (*Sample, error) {
	var missing []string
	for _, key := range CanonicalKeys {
		if _, ok := rec.Get(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("record is missing columns: %s", strings.Join(missing, ", "))
	}

	s := &Sample{}
	for _, f := range rec {
		value := strings.TrimSpace(f.Value)
		switch f.Key {
		case KeySampleName:
			s.Name = value
		case KeySequencerID:
			s.SequencerID = value
		case KeyProject:
			s.ProjectID = value
		case KeyDescription:
			s.Description = value
		default:
			s.Properties = append(s.Properties, Field{Key: f.Key, Value: value})
		}
	}
	return s, nil
}

// Paired reports whether the sample carries an R1/R2 file pair.
func (s *Sample) Paired() bool { return len(s.Files) == 2 }

// Project is a remote project.
type Project struct {
	ID          string `json:"identifier,omitempty"`
	Name        string `json:"name"`
	Description string `json:"projectDescription,omitempty"`
}

// RemoteSample is a sample as known to the remote service.
type RemoteSample struct {
	ID          string `json:"identifier,omitempty"`
	Name        string `json:"sampleName"`
	Description string `json:"description,omitempty"`
	SequencerID string `json:"sequencerSampleId,omitempty"`
}

// SequenceFile is a sequence file the server reports as stored for a sample.
type SequenceFile struct {
	ID       string `json:"identifier"`
	FileName string `json:"fileName"`
}

// UploadResult is the server's answer to a sequence file upload.
type UploadResult struct {
	StatusCode int
	Files      []SequenceFile
}
