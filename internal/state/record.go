// Package state persists per-run upload bookkeeping inside the run directory.
//
// Three files live next to the sample sheet:
//   - .uploaderInfo: JSON resume record (remote run id, status, confirmed samples)
//   - .uploaderComplete: empty marker written once every sample is confirmed
//   - .uploaderInfo.lock: advisory lock held by the uploading process
//
// A record is owned by the orchestrator of its run; Store does no locking of
// its own beyond the cross-process lock file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/models"
)

// ResumeRecord is the local mirror of a remote run's upload progress.
type ResumeRecord struct {
	RunID           string           `json:"upload_id"`
	Status          models.RunStatus `json:"upload_status"`
	UploadedSamples []string         `json:"uploaded_samples"`
	SessionID       string           `json:"session_id"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewRecord starts a record for a freshly created remote run.
func NewRecord(runID string) *ResumeRecord {
	return &ResumeRecord{
		RunID:           runID,
		Status:          models.RunStatusUploading,
		UploadedSamples: []string{},
		SessionID:       uuid.New().String(),
	}
}

// HasSample reports whether name was confirmed uploaded.
func (r *ResumeRecord) HasSample(name string) bool {
	for _, s := range r.UploadedSamples {
		if s == name {
			return true
		}
	}
	return false
}

// AddSample appends name unless it is already recorded.
func (r *ResumeRecord) AddSample(name string) {
	if !r.HasSample(name) {
		r.UploadedSamples = append(r.UploadedSamples, name)
	}
}

// RemoveSample drops name from the confirmed list.
func (r *ResumeRecord) RemoveSample(name string) {
	kept := r.UploadedSamples[:0]
	for _, s := range r.UploadedSamples {
		if s != name {
			kept = append(kept, s)
		}
	}
	r.UploadedSamples = kept
}

// SkipSet returns the confirmed samples as a set.
func (r *ResumeRecord) SkipSet() map[string]bool {
	set := make(map[string]bool, len(r.UploadedSamples))
	for _, s := range r.UploadedSamples {
		set[s] = true
	}
	return set
}

// Store reads and writes the bookkeeping files of one run directory.
type Store struct {
	dir string
}

// NewStore creates a store for runDir.
func NewStore(runDir string) *Store {
	return &Store{dir: runDir}
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the resume record location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, constants.ResumeFileName)
}

// Load reads the resume record. It returns (nil, nil) when none exists.
func (s *Store) Load() (*ResumeRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read resume record: %w", err)
	}

	var rec ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse resume record %s: %w", s.Path(), err)
	}
	if rec.RunID == "" {
		return nil, fmt.Errorf("resume record %s has no run id", s.Path())
	}
	if rec.UploadedSamples == nil {
		rec.UploadedSamples = []string{}
	}
	return &rec, nil
}

// Save writes rec atomically and stamps UpdatedAt.
func (s *Store) Save(rec *ResumeRecord) error {
	if rec == nil {
		return errors.New("cannot save nil resume record")
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume record: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	path := s.Path()
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, constants.StateFilePerm); err != nil {
		return fmt.Errorf("failed to write resume record: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename resume record: %w", err)
	}
	return nil
}

// MarkComplete writes the complete marker.
func (s *Store) MarkComplete() error {
	path := filepath.Join(s.dir, constants.CompleteMarkerName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, constants.StateFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write complete marker: %w", err)
	}
	return f.Close()
}

// IsComplete reports whether the complete marker exists.
func (s *Store) IsComplete() bool {
	return IsComplete(s.dir)
}

// IsComplete reports whether dir carries the complete marker.
func IsComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, constants.CompleteMarkerName))
	return err == nil
}

// RecordedStatus returns the status stored in dir's resume record, if any.
func RecordedStatus(dir string) (models.RunStatus, bool) {
	rec, err := NewStore(dir).Load()
	if err != nil || rec == nil {
		return "", false
	}
	return rec.Status, true
}
