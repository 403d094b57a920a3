package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/doctransform/internal/httputil"
	"github.com/Lllllllleong/doctransform/internal/models"
)

// Default CloudConvert endpoints.
const (
	DefaultCloudConvertURL     = "https://api.cloudconvert.com"
	DefaultCloudConvertSyncURL = "https://sync.api.cloudconvert.com"
)

// CloudConvertConfig configures the CloudConvert backend.
type CloudConvertConfig struct {
	APIKey  string
	BaseURL string
	SyncURL string
	// PollInterval separates wait calls when the sync endpoint returns
	// before the job is finished.
	PollInterval time.Duration
}

// CloudConvert is a Backend on the CloudConvert v2 job API.
type CloudConvert struct {
	client *http.Client
	config CloudConvertConfig
}

// NewCloudConvert returns the backend. A nil client uses http.DefaultClient.
func NewCloudConvert(client *http.Client, config CloudConvertConfig) (*CloudConvert, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("cloudconvert api key must be set")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultCloudConvertURL
	}
	if config.SyncURL == "" {
		config.SyncURL = DefaultCloudConvertSyncURL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CloudConvert{client: client, config: config}, nil
}

type ccJobEnvelope struct {
	Data ccJob `json:"data"`
}

type ccJob struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Tasks  []ccTask `json:"tasks"`
}

type ccTask struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Result    struct {
		Form *struct {
			URL        string            `json:"url"`
			Parameters map[string]string `json:"parameters"`
		} `json:"form"`
		Files []struct {
			Filename string `json:"filename"`
			URL      string `json:"url"`
		} `json:"files"`
	} `json:"result"`
}

func (c *CloudConvert) CreateJob(ctx context.Context, plan *Plan) (*RemoteJob, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v2/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	job, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	remote := &RemoteJob{ID: job.ID, Plan: plan}
	for _, t := range job.Tasks {
		if t.Name == TaskImport && t.Result.Form != nil {
			remote.UploadURL = t.Result.Form.URL
			remote.UploadFields = t.Result.Form.Parameters
		}
	}
	if remote.UploadURL == "" {
		return nil, fmt.Errorf("job %s has no upload form for task %s", job.ID, TaskImport)
	}
	slog.Debug("CloudConvert job created.", "remoteId", job.ID, "tasks", len(job.Tasks))
	return remote, nil
}

// Upload streams r to the import task's form as multipart/form-data. The
// form fields precede the file part, as the storage endpoint requires.
func (c *CloudConvert) Upload(ctx context.Context, job *RemoteJob, task, filename string, r io.Reader) error {
	if task != TaskImport || job.UploadURL == "" {
		return fmt.Errorf("task %s of job %s accepts no upload", task, job.ID)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, job.UploadFields, filename, r))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.UploadURL, pr)
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload of %s rejected: %s: %s", filename, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func writeForm(mw *multipart.Writer, fields map[string]string, filename string, r io.Reader) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// Wait blocks on the sync endpoint until the job finishes or fails.
func (c *CloudConvert) Wait(ctx context.Context, job *RemoteJob) (*JobResult, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.SyncURL+"/v2/jobs/"+job.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build wait request: %w", err)
		}
		state, err := c.do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for job %s: %w", job.ID, err)
		}

		switch state.Status {
		case "finished":
			result := &JobResult{Exports: map[string][]string{}}
			for _, t := range state.Tasks {
				for _, f := range t.Result.Files {
					result.Exports[t.Name] = append(result.Exports[t.Name], f.URL)
				}
			}
			return result, nil
		case "error":
			return nil, models.Errorf(models.KindRemoteFailure, "wait", "job %s failed: %s", job.ID, taskFailure(state.Tasks))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.PollInterval):
		}
	}
}

func taskFailure(tasks []ccTask) string {
	var msgs []string
	for _, t := range tasks {
		if t.Status == "error" {
			msgs = append(msgs, fmt.Sprintf("%s: %s %s", t.Name, t.Code, t.Message))
		}
	}
	if len(msgs) == 0 {
		return "unknown error"
	}
	return strings.Join(msgs, "; ")
}

// Fetch downloads a result file. Export URLs are pre-signed.
func (c *CloudConvert) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch result: %s", resp.Status)
	}
	return resp.Body, nil
}

func (c *CloudConvert) do(ctx context.Context, req *http.Request) (*ccJob, error) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, models.Errorf(models.KindRemoteFailure, req.Method+" "+req.URL.Path, "%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var env ccJobEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env.Data, nil
}
