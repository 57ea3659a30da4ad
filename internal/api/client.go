package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/http"
	"github.com/seqlab/run-uploader/internal/models"
	"github.com/seqlab/run-uploader/internal/ratelimit"
	"github.com/seqlab/run-uploader/internal/uploaderr"
	"github.com/seqlab/run-uploader/internal/version"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct{}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg("retry: " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("retry: " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg("retry: " + msg)
}

// Client is the REST implementation of Gateway.
//
// JSON calls go through a retrying client. Sequence file uploads stream a
// multipart body from disk and are sent once.
type Client struct {
	baseURL    string
	retry      *retryablehttp.Client
	jsonHTTP   *nethttp.Client
	uploadHTTP *nethttp.Client
	limiter    *ratelimit.RateLimiter

	oauth    oauth2.Config
	username string
	password string

	mu        sync.Mutex
	tokens    oauth2.TokenSource
	sampleIDs map[string]string // projectID + "/" + lower(name) -> remote id
}

var _ Gateway = (*Client)(nil)

// NewClient creates a client for cfg.Server.
func NewClient(cfg *config.Config) (*Client, error) {
	base := strings.TrimRight(cfg.Server.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("server base URL is empty")
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	httpClient.Timeout = constants.APIContextTimeout

	uploadClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upload client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Logger = &retryLogger{}

	return &Client{
		baseURL:    base,
		retry:      retryClient,
		jsonHTTP:   retryClient.StandardClient(),
		uploadHTTP: uploadClient,
		limiter:    ratelimit.NewAPIRateLimiter(),
		oauth: oauth2.Config{
			ClientID:     cfg.Server.ClientID,
			ClientSecret: cfg.Server.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:  cfg.Server.Username,
		password:  cfg.Server.Password,
		sampleIDs: make(map[string]string),
	}, nil
}

// passwordSource fetches a fresh token with the password grant. It backs a
// ReuseTokenSource, so it runs only when the cached token has expired.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, ClassifyAuthError(err)
	}
	return tok, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.jsonHTTP)
}

// Authenticate obtains an access token with the password grant.
func (c *Client) Authenticate(ctx context.Context) error {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), c.username, c.password)
	if err != nil {
		return ClassifyAuthError(err)
	}

	c.mu.Lock()
	c.tokens = oauth2.ReuseTokenSource(tok, passwordSource{
		ctx:      c.oauthContext(context.Background()),
		conf:     &c.oauth,
		username: c.username,
		password: c.password,
	})
	c.mu.Unlock()

	log.Debug().Str("server", c.baseURL).Msg("Authenticated")
	return nil
}

// authorize sets the bearer token on req, authenticating on first use.
func (c *Client) authorize(ctx context.Context, req *nethttp.Request) error {
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()

	if ts == nil {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		ts = c.tokens
		c.mu.Unlock()
	}

	tok, err := ts.Token()
	if err != nil {
		return ClassifyAuthError(err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// doRequest performs a JSON request with authentication and rate limiting.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.jsonHTTP.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// doJSON runs doRequest, checks the status against want and decodes the
// answer into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, want ...int) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, want) {
		return newStatusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}

func newStatusError(method, path string, resp *nethttp.Response) *StatusError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
	}
}

// ListProjects returns every project visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out resourceList[wireProject]
	if err := c.doJSON(ctx, nethttp.MethodGet, "/projects", nil, &out, nethttp.StatusOK); err != nil {
		return nil, fmt.Errorf("list projects failed: %w", err)
	}
	projects := make([]models.Project, 0, len(out.Resource.Resources))
	for _, p := range out.Resource.Resources {
		projects = append(projects, p.model())
	}
	return projects, nil
}

// CreateProject creates p and returns it with its server id.
func (c *Client) CreateProject(ctx context.Context, p models.Project) (*models.Project, error) {
	body := wireProject{Name: p.Name, ProjectDescription: p.Description}
	var out resource[wireProject]
	if err := c.doJSON(ctx, nethttp.MethodPost, "/projects", body, &out, nethttp.StatusCreated); err != nil {
		return nil, fmt.Errorf("create project %q failed: %w", p.Name, err)
	}
	created := out.Resource.model()
	return &created, nil
}

// ListSamples returns the samples of project projectID.
func (c *Client) ListSamples(ctx context.Context, projectID string) ([]models.RemoteSample, error) {
	var out resourceList[wireSample]
	path := "/projects/" + url.PathEscape(projectID) + "/samples"
	if err := c.doJSON(ctx, nethttp.MethodGet, path, nil, &out, nethttp.StatusOK); err != nil {
		return nil, fmt.Errorf("list samples of project %s failed: %w", projectID, err)
	}
	samples := make([]models.RemoteSample, 0, len(out.Resource.Resources))
	for _, s := range out.Resource.Resources {
		rs := s.model()
		c.rememberSample(projectID, rs)
		samples = append(samples, rs)
	}
	return samples, nil
}

// CreateSamples creates each sample in projectID, one request per sample,
// stopping at the first failure.
func (c *Client) CreateSamples(ctx context.Context, projectID string, samples []*models.Sample) ([]models.RemoteSample, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/samples"
	created := make([]models.RemoteSample, 0, len(samples))
	for _, s := range samples {
		body := wireSample{SampleName: s.Name, Description: s.Description, SequencerSampleID: s.SequencerID}
		var out resource[wireSample]
		if err := c.doJSON(ctx, nethttp.MethodPost, path, body, &out, nethttp.StatusCreated); err != nil {
			return created, fmt.Errorf("create sample %s in project %s failed: %w", s.Name, projectID, err)
		}
		rs := out.Resource.model()
		c.rememberSample(projectID, rs)
		created = append(created, rs)
	}
	return created, nil
}

// CreateRun registers a sequencing run and returns its id.
func (c *Client) CreateRun(ctx context.Context, meta models.RunMetadata) (string, error) {
	body := meta.Map()
	body["uploadStatus"] = string(models.RunStatusUploading)

	var out resource[wireRun]
	if err := c.doJSON(ctx, nethttp.MethodPost, "/sequencingrun/miseqrun", body, &out, nethttp.StatusCreated); err != nil {
		return "", fmt.Errorf("create sequencing run failed: %w", err)
	}
	if out.Resource.Identifier == "" {
		return "", fmt.Errorf("create sequencing run: server returned no identifier")
	}
	return string(out.Resource.Identifier), nil
}

// SetRunStatus patches the upload status of run runID.
func (c *Client) SetRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	body := map[string]string{"uploadStatus": string(status)}
	path := "/sequencingrun/" + url.PathEscape(runID)
	if err := c.doJSON(ctx, nethttp.MethodPatch, path, body, nil, nethttp.StatusOK, nethttp.StatusNoContent); err != nil {
		return fmt.Errorf("set run %s status to %s failed: %w", runID, status, err)
	}
	return nil
}

func sampleKey(projectID, name string) string {
	return projectID + "/" + strings.ToLower(name)
}

func (c *Client) rememberSample(projectID string, s models.RemoteSample) {
	if s.ID == "" {
		return
	}
	c.mu.Lock()
	c.sampleIDs[sampleKey(projectID, s.Name)] = s.ID
	c.mu.Unlock()
}

// sampleID resolves the server id of a sample by name, listing the project
// when the name has not been seen yet.
func (c *Client) sampleID(ctx context.Context, projectID, name string) (string, error) {
	key := sampleKey(projectID, name)
	c.mu.Lock()
	id, ok := c.sampleIDs[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ListSamples(ctx, projectID); err != nil {
		return "", err
	}
	c.mu.Lock()
	id, ok = c.sampleIDs[key]
	c.mu.Unlock()
	if !ok {
		return "", uploaderr.New(uploaderr.KindSampleNotFound, "sample %s is not in project %s", name, projectID)
	}
	return id, nil
}

// UploadSequenceFiles streams files to the pairs endpoint (two files) or the
// sequenceFiles endpoint (one file).
func (c *Client) UploadSequenceFiles(ctx context.Context, runID string, sample *models.Sample, files []string, tracker Tracker) (*models.UploadResult, error) {
	if len(files) != 1 && len(files) != 2 {
		return nil, fmt.Errorf("sample %s: expected 1 or 2 files, got %d", sample.Name, len(files))
	}

	remoteID, err := c.sampleID(ctx, sample.ProjectID, sample.Name)
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(uploadParameters(runID, sample))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload parameters: %w", err)
	}

	endpoint := "/sequenceFiles"
	parts := []formPart{{field: "file", path: files[0]}, {field: "parameters", json: params}}
	if len(files) == 2 {
		endpoint = "/pairs"
		parts = []formPart{
			{field: "file1", path: files[0]},
			{field: "parameters1", json: params},
			{field: "file2", path: files[1]},
			{field: "parameters2", json: params},
		}
	}
	path := "/projects/" + url.PathEscape(sample.ProjectID) + "/samples/" + url.PathEscape(remoteID) + endpoint

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, parts, tracker)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	log.Debug().Str("sample", sample.Name).Int("files", len(files)).Str("path", path).Msg("Uploading sequence files")

	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload of sample %s failed: %w", sample.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusCreated {
		return nil, fmt.Errorf("upload of sample %s failed: %w", sample.Name, newStatusError(nethttp.MethodPost, path, resp))
	}

	stored, err := decodeStoredFiles(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upload of sample %s: %w", sample.Name, err)
	}
	return &models.UploadResult{StatusCode: resp.StatusCode, Files: stored}, nil
}

func uploadParameters(runID string, s *models.Sample) map[string]string {
	params := make(map[string]string, len(s.Properties)+1)
	for _, f := range s.Properties {
		params[f.Key] = f.Value
	}
	params["miseqRunId"] = runID
	return params
}

type formPart struct {
	field string
	path  string // file part when set
	json  []byte // JSON part otherwise
}

func writeParts(mw *multipart.Writer, parts []formPart, tracker Tracker) error {
	for _, p := range parts {
		if p.path == "" {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.field))
			h.Set("Content-Type", "application/json")
			w, err := mw.CreatePart(h)
			if err != nil {
				return err
			}
			if _, err := w.Write(p.json); err != nil {
				return err
			}
			continue
		}
		if err := copyFilePart(mw, p, tracker); err != nil {
			return err
		}
	}
	return nil
}

func copyFilePart(mw *multipart.Writer, p formPart, tracker Tracker) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p.path, err)
	}
	w, err := mw.CreateFormFile(p.field, filepath.Base(p.path))
	if err != nil {
		return err
	}

	var src io.Reader = f
	if tracker != nil {
		tracker.StartFile(info.Size())
		src = &trackingReader{r: f, t: tracker}
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to send %s: %w", filepath.Base(p.path), err)
	}
	return nil
}

type trackingReader struct {
	r io.Reader
	t Tracker
}

func (tr *trackingReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.t.Add(int64(n))
	}
	return n, err
}

// decodeStoredFiles reads the files the server reports as stored. The pairs
// endpoint answers with a resource list, sequenceFiles with one resource.
func decodeStoredFiles(r io.Reader) ([]models.SequenceFile, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var list resourceList[wireFile]
	if err := json.Unmarshal(data, &list); err == nil && len(list.Resource.Resources) > 0 {
		files := make([]models.SequenceFile, 0, len(list.Resource.Resources))
		for _, f := range list.Resource.Resources {
			files = append(files, f.model())
		}
		return files, nil
	}

	var single resource[wireFile]
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if single.Resource.Identifier == "" && single.Resource.FileName == "" {
		return nil, nil
	}
	return []models.SequenceFile{single.Resource.model()}, nil
}

// wire types

type resource[T any] struct {
	Resource T `json:"resource"`
}

type resourceList[T any] struct {
	Resource struct {
		Resources []T `json:"resources"`
	} `json:"resource"`
}

// flexID accepts identifiers sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("identifier must be a string or a number")
	}
	*f = flexID(n.String())
	return nil
}

type wireProject struct {
	Identifier         flexID `json:"identifier,omitempty"`
	Name               string `json:"name"`
	ProjectDescription string `json:"projectDescription,omitempty"`
}

func (w wireProject) model() models.Project {
	return models.Project{ID: string(w.Identifier), Name: w.Name, Description: w.ProjectDescription}
}

type wireSample struct {
	Identifier        flexID `json:"identifier,omitempty"`
	SampleName        string `json:"sampleName"`
	Description       string `json:"description,omitempty"`
	SequencerSampleID string `json:"sequencerSampleId,omitempty"`
}

func (w wireSample) model() models.RemoteSample {
	return models.RemoteSample{
		ID:          string(w.Identifier),
		Name:        w.SampleName,
		Description: w.Description,
		SequencerID: w.SequencerSampleID,
	}
}

type wireRun struct {
	Identifier flexID `json:"identifier"`
}

type wireFile struct {
	Identifier flexID `json:"identifier"`
	FileName   string `json:"fileName"`
}

func (w wireFile) model() models.SequenceFile {
	return models.SequenceFile{ID: string(w.Identifier), FileName: w.FileName}
}
