// Package api talks to the run-management server: projects, samples,
// sequencing runs and sequence file uploads.
package api

import (
	"context"

	"github.com/seqlab/run-uploader/internal/models"
)

// Tracker receives byte counts while sequence files stream to the server.
// progress.Monitor satisfies it.
type Tracker interface {
	StartFile(size int64)
	Add(n int64)
}

// Gateway is everything the uploader needs from the server.
type Gateway interface {
	Authenticate(ctx context.Context) error

	ListProjects(ctx context.Context) ([]models.Project, error)
	CreateProject(ctx context.Context, p models.Project) (*models.Project, error)

	ListSamples(ctx context.Context, projectID string) ([]models.RemoteSample, error)
	CreateSamples(ctx context.Context, projectID string, samples []*models.Sample) ([]models.RemoteSample, error)

	// CreateRun registers a sequencing run with status UPLOADING and returns its id.
	CreateRun(ctx context.Context, meta models.RunMetadata) (string, error)
	SetRunStatus(ctx context.Context, runID string, status models.RunStatus) error

	// UploadSequenceFiles sends the 1 or 2 files of sample in one request.
	// tracker may be nil.
	UploadSequenceFiles(ctx context.Context, runID string, sample *models.Sample, files []string, tracker Tracker) (*models.UploadResult, error)
}
