package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// fakeServer imitates the REST endpoints the uploader calls.
type fakeServer struct {
	t  *testing.T
	mu sync.Mutex

	tokenError string // OAuth2 error code to answer the token endpoint with
	calls      []string
	uploads    map[string]map[string]string // path -> form field -> file name or JSON
	statuses   []string
	uploadCode int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{t: t, uploads: map[string]map[string]string{}, uploadCode: http.StatusCreated}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.calls = append(fs.calls, r.Method+" "+r.URL.Path)
	fs.mu.Unlock()

	if r.URL.Path == "/api/oauth/token" {
		fs.token(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/projects":
		fmt.Fprint(w, `{"resource":{"resources":[{"identifier":6,"name":"Project 6"},{"identifier":"7","name":"Project 7"}]}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/api/projects":
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"resource":{"identifier":"8","name":"New"}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/projects/6/samples":
		fmt.Fprint(w, `{"resource":{"resources":[{"identifier":"101","sampleName":"S1"}]}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/api/projects/6/samples":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["sampleName"] == "S1" {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":"sample already exists"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"resource":{"identifier":"102","sampleName":%q}}`, body["sampleName"])
	case r.Method == http.MethodPost && r.URL.Path == "/api/sequencingrun/miseqrun":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["uploadStatus"] != "UPLOADING" || body["workflow"] != "GenerateFASTQ" {
			fs.t.Errorf("create run body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"resource":{"identifier":77}}`)
	case r.Method == http.MethodPatch && r.URL.Path == "/api/sequencingrun/77":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		fs.mu.Lock()
		fs.statuses = append(fs.statuses, body["uploadStatus"])
		fs.mu.Unlock()
		fmt.Fprint(w, `{"resource":{"identifier":77}}`)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/projects/6/samples/101/"):
		fs.upload(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fs *fakeServer) token(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	if fs.tokenError != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":%q,"error_description":"Bad client secret"}`, fs.tokenError)
		return
	}
	if r.Form.Get("grant_type") != "password" || r.Form.Get("username") != "admin" || r.Form.Get("client_id") != "uploader" {
		fs.t.Errorf("token form = %v", r.Form)
	}
	fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`)
}

func (fs *fakeServer) upload(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		fs.t.Errorf("bad content type: %v", err)
		return
	}
	fields := map[string]string{}
	mr := multipart.NewReader(r.Body, params["boundary"])
	var order []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			fs.t.Errorf("multipart: %v", err)
			return
		}
		data, _ := io.ReadAll(p)
		order = append(order, p.FormName())
		if p.FileName() != "" {
			fields[p.FormName()] = p.FileName() + ":" + string(data)
		} else {
			fields[p.FormName()] = string(data)
		}
	}
	fields["_order"] = strings.Join(order, ",")

	fs.mu.Lock()
	fs.uploads[r.URL.Path] = fields
	code := fs.uploadCode
	fs.mu.Unlock()

	w.WriteHeader(code)
	if strings.HasSuffix(r.URL.Path, "/pairs") {
		fmt.Fprint(w, `{"resource":{"resources":[{"identifier":1,"fileName":"a"},{"identifier":2,"fileName":"b"}]}}`)
		return
	}
	fmt.Fprint(w, `{"resource":{"identifier":3,"fileName":"c"}}`)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Server = config.ServerConfig{
		BaseURL:      srv.URL + "/api",
		ClientID:     "uploader",
		ClientSecret: "secret",
		Username:     "admin",
		Password:     "password1",
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.retry.RetryMax = 0
	return c
}

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	_, err := NewClient(config.NewConfig())
	if err == nil || !strings.Contains(err.Error(), "base URL is empty") {
		t.Fatalf("NewClient() error = %v, want base URL error", err)
	}
}

func TestClient_ProjectsAndSamples(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	projects, err := c.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 2 || projects[0].ID != "6" || projects[1].ID != "7" {
		t.Errorf("projects = %+v (numeric and string ids should both decode)", projects)
	}

	p, err := c.CreateProject(ctx, models.Project{Name: "New"})
	if err != nil || p.ID != "8" {
		t.Errorf("CreateProject() = %+v, %v", p, err)
	}

	samples, err := c.ListSamples(ctx, "6")
	if err != nil || len(samples) != 1 || samples[0].ID != "101" {
		t.Fatalf("ListSamples() = %+v, %v", samples, err)
	}

	created, err := c.CreateSamples(ctx, "6", []*models.Sample{{Name: "S2", ProjectID: "6"}})
	if err != nil || len(created) != 1 || created[0].ID != "102" {
		t.Errorf("CreateSamples() = %+v, %v", created, err)
	}

	_, err = c.CreateSamples(ctx, "6", []*models.Sample{{Name: "S1", ProjectID: "6"}})
	if !IsAlreadyExists(err) {
		t.Errorf("CreateSamples(existing) error = %v, want already exists", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict {
		t.Errorf("error should carry the 409 status: %v", err)
	}
}

func TestClient_RunLifecycle(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	runID, err := c.CreateRun(ctx, models.RunMetadata{Workflow: "GenerateFASTQ", Layout: models.LayoutPairedEnd})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if runID != "77" {
		t.Errorf("runID = %q, want 77", runID)
	}
	if err := c.SetRunStatus(ctx, runID, models.RunStatusComplete); err != nil {
		t.Fatalf("SetRunStatus() error = %v", err)
	}
	if len(fs.statuses) != 1 || fs.statuses[0] != "COMPLETE" {
		t.Errorf("statuses = %v", fs.statuses)
	}
	if fs.calls[0] != "POST /api/oauth/token" {
		t.Errorf("first call = %s, want lazy authentication", fs.calls[0])
	}
}

type countingTracker struct {
	files []int64
	bytes int64
}

func (ct *countingTracker) StartFile(size int64) { ct.files = append(ct.files, size) }
func (ct *countingTracker) Add(n int64)          { ct.bytes += n }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClient_UploadPair(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	dir := t.TempDir()
	r1 := writeFile(t, dir, "S1_S1_L001_R1_001.fastq.gz", "AAAA")
	r2 := writeFile(t, dir, "S1_S1_L001_R2_001.fastq.gz", "CCCCCC")

	sample := &models.Sample{
		Name:       "S1",
		ProjectID:  "6",
		Properties: models.Record{{Key: "I7_Index_ID", Value: "N701"}},
		Files:      []string{r1, r2},
	}
	tracker := &countingTracker{}
	res, err := c.UploadSequenceFiles(context.Background(), "77", sample, sample.Files, tracker)
	if err != nil {
		t.Fatalf("UploadSequenceFiles() error = %v", err)
	}
	if res.StatusCode != http.StatusCreated || len(res.Files) != 2 {
		t.Errorf("result = %+v", res)
	}

	got := fs.uploads["/api/projects/6/samples/101/pairs"]
	if got == nil {
		t.Fatalf("pairs endpoint not called; calls = %v", fs.calls)
	}
	if got["_order"] != "file1,parameters1,file2,parameters2" {
		t.Errorf("part order = %s", got["_order"])
	}
	if got["file1"] != "S1_S1_L001_R1_001.fastq.gz:AAAA" || got["file2"] != "S1_S1_L001_R2_001.fastq.gz:CCCCCC" {
		t.Errorf("file parts = %q / %q", got["file1"], got["file2"])
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(got["parameters1"]), &params); err != nil {
		t.Fatalf("parameters1 not JSON: %v", err)
	}
	if params["miseqRunId"] != "77" || params["I7_Index_ID"] != "N701" {
		t.Errorf("parameters = %v", params)
	}
	if len(tracker.files) != 2 || tracker.files[0] != 4 || tracker.files[1] != 6 || tracker.bytes != 10 {
		t.Errorf("tracker = %+v", tracker)
	}
}

func TestClient_UploadSingleAndFailure(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	dir := t.TempDir()
	f := writeFile(t, dir, "S1_S1_L001_R1_001.fastq.gz", "GATTACA")
	sample := &models.Sample{Name: "s1", ProjectID: "6", Files: []string{f}}

	res, err := c.UploadSequenceFiles(context.Background(), "77", sample, sample.Files, nil)
	if err != nil {
		t.Fatalf("UploadSequenceFiles() error = %v", err)
	}
	if len(res.Files) != 1 {
		t.Errorf("single upload stored %d files", len(res.Files))
	}
	if fs.uploads["/api/projects/6/samples/101/sequenceFiles"] == nil {
		t.Error("sequenceFiles endpoint not called (sample names match case-insensitively)")
	}

	fs.uploadCode = http.StatusInternalServerError
	_, err = c.UploadSequenceFiles(context.Background(), "77", sample, sample.Files, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Errorf("error = %v, want 500 StatusError", err)
	}

	missing := &models.Sample{Name: "ghost", ProjectID: "6", Files: []string{f}}
	_, err = c.UploadSequenceFiles(context.Background(), "77", missing, missing.Files, nil)
	if !errors.Is(err, uploaderr.ErrSampleNotFound) {
		t.Errorf("unknown sample error = %v, want sample_not_found", err)
	}
}

func TestClient_AuthenticateClassifiesOAuthError(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)

	fs.tokenError = "invalid_grant"
	err := c.Authenticate(context.Background())
	if !errors.Is(err, uploaderr.ErrAuth) {
		t.Fatalf("Authenticate() error = %v, want auth error", err)
	}
	var ue *uploaderr.Error
	errors.As(err, &ue)
	if ue.AuthReason != uploaderr.AuthBadCredentials {
		t.Errorf("reason = %s, want bad_credentials", ue.AuthReason)
	}

	fs.tokenError = "invalid_client"
	err = c.Authenticate(context.Background())
	errors.As(err, &ue)
	if ue.AuthReason != uploaderr.AuthBadClientSecret {
		t.Errorf("reason = %s, want bad_client_secret (description mentions the secret)", ue.AuthReason)
	}
}
