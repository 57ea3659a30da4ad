package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

type fakeCatalog struct {
	projects     []models.Project
	samples      map[string][]models.RemoteSample
	projectCalls int
	sampleCalls  int
	err          error
}

func (f *fakeCatalog) ListProjects(ctx context.Context) ([]models.Project, error) {
	f.projectCalls++
	return f.projects, f.err
}

func (f *fakeCatalog) ListSamples(ctx context.Context, projectID string) ([]models.RemoteSample, error) {
	f.sampleCalls++
	return f.samples[projectID], f.err
}

func TestOnline_ProjectAndSampleExists(t *testing.T) {
	cat := &fakeCatalog{
		projects: []models.Project{{ID: "6", Name: "bugs"}},
		samples:  map[string][]models.RemoteSample{"6": {{ID: "44", Name: "Sample-a"}}},
	}
	o := NewOnline(cat)
	ctx := context.Background()

	for _, id := range []string{"6", "6", "7"} {
		ok, err := o.ProjectExists(ctx, id)
		if err != nil {
			t.Fatalf("ProjectExists(%s) error = %v", id, err)
		}
		if ok != (id == "6") {
			t.Errorf("ProjectExists(%s) = %v", id, ok)
		}
	}
	if cat.projectCalls != 1 {
		t.Errorf("ListProjects called %d times, want 1", cat.projectCalls)
	}

	ok, err := o.SampleExists(ctx, "6", "Sample-a")
	if err != nil || !ok {
		t.Errorf("SampleExists(exact) = %v, %v", ok, err)
	}
	ok, _ = o.SampleExists(ctx, "6", "SAMPLE-A")
	if !ok {
		t.Error("SampleExists should match case-insensitively")
	}
	ok, _ = o.SampleExists(ctx, "6", "missing")
	if ok {
		t.Error("SampleExists(missing) = true")
	}

	o.Remember("6", models.RemoteSample{ID: "45", Name: "missing"})
	if ok, _ := o.SampleExists(ctx, "6", "MISSING"); !ok {
		t.Error("remembered sample should be found")
	}
	if cat.sampleCalls != 1 {
		t.Errorf("ListSamples called %d times, want 1", cat.sampleCalls)
	}
}

func TestOnline_CheckProjects(t *testing.T) {
	cat := &fakeCatalog{projects: []models.Project{{ID: "6"}}}
	run, _ := models.NewRun("/data/run1/SampleSheet.csv")
	run.SetSamples([]*models.Sample{
		{Name: "S1", ProjectID: "6"},
		{Name: "S2", ProjectID: "9"},
		{Name: "S3", ProjectID: "10"},
	})

	o := NewOnline(cat)
	err := o.CheckProjects(context.Background(), run)
	if !errors.Is(err, uploaderr.ErrProjectNotFound) {
		t.Fatalf("CheckProjects() error = %v, want project_not_found", err)
	}
	if !strings.Contains(err.Error(), "S2") || !strings.Contains(err.Error(), "9") {
		t.Errorf("error %q should name the first failing sample and project", err)
	}

	res := o.ValidateRunOnline(context.Background(), run)
	if res.Valid || len(res.Errors) != 2 {
		t.Errorf("ValidateRunOnline() = %v, want 2 errors", res.Errors)
	}
}

func TestOnline_CatalogFailure(t *testing.T) {
	o := NewOnline(&fakeCatalog{err: errors.New("connection refused")})
	run, _ := models.NewRun("/data/run1/SampleSheet.csv")
	run.SetSamples([]*models.Sample{{Name: "S1", ProjectID: "6"}})

	res := o.ValidateRunOnline(context.Background(), run)
	if res.Valid || !strings.Contains(res.Errors[0], "connection refused") {
		t.Errorf("ValidateRunOnline() = %v, want the catalog error", res.Errors)
	}
}
