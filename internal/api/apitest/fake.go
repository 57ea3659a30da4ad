// Package apitest provides an in-memory api.Gateway for tests.
package apitest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seqlab/run-uploader/internal/api"
	"github.com/seqlab/run-uploader/internal/models"
)

// StatusCall records one SetRunStatus call.
type StatusCall struct {
	RunID  string
	Status models.RunStatus
}

// Fake is a Gateway whose behaviour is driven by its exported fields.
// Set fields before use; read them after the code under test returns.
type Fake struct {
	mu sync.Mutex

	Projects []models.Project
	Samples  map[string][]models.RemoteSample // by project id

	// FailUpload makes UploadSequenceFiles fail for the named sample.
	FailUpload map[string]error
	// StoredFiles overrides how many files the server reports for a sample.
	StoredFiles map[string]int
	// FailCreateRun makes CreateRun fail.
	FailCreateRun error
	// AuthErr is returned by Authenticate.
	AuthErr error

	AuthCalls      int
	CreatedRuns    []models.RunMetadata
	CreatedSamples []string
	Statuses       []StatusCall
	Uploaded       []string // sample names in upload order
	BytesSent      int64

	// OnUpload, when set, runs before each upload is answered.
	OnUpload func(sample string)

	nextID int
}

var _ api.Gateway = (*Fake)(nil)

// NewFake returns a gateway knowing the given project ids.
func NewFake(projectIDs ...string) *Fake {
	f := &Fake{Samples: map[string][]models.RemoteSample{}}
	for _, id := range projectIDs {
		f.Projects = append(f.Projects, models.Project{ID: id, Name: "Project " + id})
	}
	return f
}

func (f *Fake) id() string {
	f.nextID++
	return fmt.Sprintf("%d", f.nextID)
}

func (f *Fake) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthCalls++
	return f.AuthErr
}

func (f *Fake) ListProjects(ctx context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Project(nil), f.Projects...), nil
}

func (f *Fake) CreateProject(ctx context.Context, p models.Project) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	f.Projects = append(f.Projects, p)
	return &p, nil
}

func (f *Fake) ListSamples(ctx context.Context, projectID string) ([]models.RemoteSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteSample(nil), f.Samples[projectID]...), nil
}

func (f *Fake) CreateSamples(ctx context.Context, projectID string, samples []*models.Sample) ([]models.RemoteSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RemoteSample
	for _, s := range samples {
		for _, existing := range f.Samples[projectID] {
			if strings.EqualFold(existing.Name, s.Name) {
				return out, fmt.Errorf("create sample %s: %w", s.Name, api.ErrAlreadyExists)
			}
		}
		rs := models.RemoteSample{ID: f.id(), Name: s.Name, Description: s.Description, SequencerID: s.SequencerID}
		f.Samples[projectID] = append(f.Samples[projectID], rs)
		f.CreatedSamples = append(f.CreatedSamples, s.Name)
		out = append(out, rs)
	}
	return out, nil
}

func (f *Fake) CreateRun(ctx context.Context, meta models.RunMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateRun != nil {
		return "", f.FailCreateRun
	}
	f.CreatedRuns = append(f.CreatedRuns, meta)
	return "run-" + f.id(), nil
}

func (f *Fake) SetRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses = append(f.Statuses, StatusCall{RunID: runID, Status: status})
	return nil
}

// UploadSequenceFiles reads every file through tracker like the REST client.
func (f *Fake) UploadSequenceFiles(ctx context.Context, runID string, sample *models.Sample, files []string, tracker api.Tracker) (*models.UploadResult, error) {
	f.mu.Lock()
	hook := f.OnUpload
	failErr := f.FailUpload[sample.Name]
	stored, override := f.StoredFiles[sample.Name]
	f.mu.Unlock()

	if hook != nil {
		hook(sample.Name)
	}
	if failErr != nil {
		return nil, failErr
	}

	var sent int64
	for _, p := range files {
		n, err := readThrough(p, tracker)
		if err != nil {
			return nil, err
		}
		sent += n
	}

	if !override {
		stored = len(files)
	}
	result := &models.UploadResult{StatusCode: 201}
	for i := 0; i < stored; i++ {
		result.Files = append(result.Files, models.SequenceFile{ID: fmt.Sprintf("%s-%d", sample.Name, i), FileName: filepath.Base(files[i%len(files)])})
	}

	f.mu.Lock()
	f.Uploaded = append(f.Uploaded, sample.Name)
	f.BytesSent += sent
	f.mu.Unlock()
	return result, nil
}

func readThrough(path string, tracker api.Tracker) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	if tracker != nil {
		tracker.StartFile(info.Size())
	}

	buf := make([]byte, 64)
	var total int64
	for {
		n, err := file.Read(buf)
		if n > 0 {
			total += int64(n)
			if tracker != nil {
				tracker.Add(int64(n))
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// StatusList returns the statuses set so far, in order.
func (f *Fake) StatusList() []models.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.RunStatus, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = s.Status
	}
	return out
}

// UploadedSamples returns the samples uploaded so far, in order.
func (f *Fake) UploadedSamples() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Uploaded...)
}
