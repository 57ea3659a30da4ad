package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// Catalog is the read side of the remote service needed by online checks.
type Catalog interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	ListSamples(ctx context.Context, projectID string) ([]models.RemoteSample, error)
}

// Online checks project and sample existence against a Catalog.
// Listings are cached for the lifetime of the value, so one Online should be
// used per run attempt.
type Online struct {
	catalog Catalog

	mu       sync.Mutex
	projects map[string]models.Project
	samples  map[string][]models.RemoteSample
}

// NewOnline creates an online validator backed by catalog.
func NewOnline(catalog Catalog) *Online {
	return &Online{
		catalog: catalog,
		samples: make(map[string][]models.RemoteSample),
	}
}

func (o *Online) loadProjects(ctx context.Context) (map[string]models.Project, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.projects != nil {
		return o.projects, nil
	}
	list, err := o.catalog.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	o.projects = make(map[string]models.Project, len(list))
	for _, p := range list {
		o.projects[p.ID] = p
	}
	return o.projects, nil
}

// ProjectExists reports whether the remote project list holds projectID.
func (o *Online) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	projects, err := o.loadProjects(ctx)
	if err != nil {
		return false, err
	}
	_, ok := projects[projectID]
	return ok, nil
}

// FindSample returns the remote sample in projectID whose name matches
// name case-insensitively.
func (o *Online) FindSample(ctx context.Context, projectID, name string) (*models.RemoteSample, error) {
	o.mu.Lock()
	list, cached := o.samples[projectID]
	o.mu.Unlock()

	if !cached {
		var err error
		list, err = o.catalog.ListSamples(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list samples of project %s: %w", projectID, err)
		}
		o.mu.Lock()
		o.samples[projectID] = list
		o.mu.Unlock()
	}

	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			s := list[i]
			return &s, nil
		}
	}
	return nil, nil
}

// SampleExists reports whether projectID holds a sample named name, ignoring case.
func (o *Online) SampleExists(ctx context.Context, projectID, name string) (bool, error) {
	s, err := o.FindSample(ctx, projectID, name)
	return s != nil, err
}

// Remember records a sample created remotely so later lookups see it.
func (o *Online) Remember(projectID string, s models.RemoteSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples[projectID] = append(o.samples[projectID], s)
}

// CheckProjects returns a project_not_found error for the first sample whose
// project does not exist remotely.
func (o *Online) CheckProjects(ctx context.Context, run *models.Run) error {
	for _, s := range run.Samples() {
		ok, err := o.ProjectExists(ctx, s.ProjectID)
		if err != nil {
			return err
		}
		if !ok {
			return uploaderr.New(uploaderr.KindProjectNotFound,
				"sample %s references project %s, which does not exist", s.Name, s.ProjectID)
		}
	}
	return nil
}

// ValidateRunOnline lists every sample whose project is missing remotely.
// A failure to reach the service is reported as an error entry.
func (o *Online) ValidateRunOnline(ctx context.Context, run *models.Run) models.ValidationResult {
	var errs []string
	for _, s := range run.Samples() {
		ok, err := o.ProjectExists(ctx, s.ProjectID)
		if err != nil {
			return models.NewValidationResult(append(errs, err.Error()))
		}
		if !ok {
			errs = append(errs, fmt.Sprintf("sample %s: project %s does not exist", s.Name, s.ProjectID))
		}
	}
	return models.NewValidationResult(errs)
}
