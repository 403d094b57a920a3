package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// ObjectStore is the slice of object storage used by the workflows backend.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader) error
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// ExecutionsAPI is the subset of the Workflows executions client in use.
type ExecutionsAPI interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowsConfig configures the workflows backend.
type WorkflowsConfig struct {
	ProjectID     string
	Location      string
	WorkflowID    string
	StagingBucket string
	OutputBucket  string
	PollInterval  time.Duration
}

// Workflows is a Backend that hands the plan to a Cloud Workflows execution.
// The source is staged in a bucket and the execution reports the exported
// files as gs:// URLs.
type Workflows struct {
	store      ObjectStore
	executions ExecutionsAPI
	config     WorkflowsConfig
}

// workflowArgument is the execution argument.
type workflowArgument struct {
	JobID        string          `json:"jobId"`
	Input        string          `json:"input"`
	OutputPrefix string          `json:"outputPrefix"`
	Plan         json.RawMessage `json:"plan"`
}

// workflowResult is the execution result the workflow must return.
type workflowResult struct {
	Exports map[string][]string `json:"exports"`
}

// NewWorkflows returns the backend.
func NewWorkflows(store ObjectStore, executions ExecutionsAPI, config WorkflowsConfig) (*Workflows, error) {
	if config.ProjectID == "" || config.WorkflowID == "" {
		return nil, fmt.Errorf("workflows backend needs a project and a workflow id")
	}
	if config.StagingBucket == "" {
		return nil, fmt.Errorf("workflows backend needs a staging bucket")
	}
	if config.OutputBucket == "" {
		config.OutputBucket = config.StagingBucket
	}
	if config.Location == "" {
		config.Location = "us-central1"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	return &Workflows{store: store, executions: executions, config: config}, nil
}

func (w *Workflows) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", w.config.ProjectID, w.config.Location, w.config.WorkflowID)
}

// CreateJob assigns the job its staging prefix. The execution itself starts
// once the source is uploaded.
func (w *Workflows) CreateJob(ctx context.Context, plan *Plan) (*RemoteJob, error) {
	return &RemoteJob{ID: uuid.NewString(), Plan: plan}, nil
}

func (w *Workflows) inputObject(job *RemoteJob) string {
	return path.Join("jobs", job.ID, "input."+job.Plan.SourceFormat)
}

func (w *Workflows) Upload(ctx context.Context, job *RemoteJob, task, filename string, r io.Reader) error {
	if task != TaskImport {
		return fmt.Errorf("task %s of job %s accepts no upload", task, job.ID)
	}
	if err := w.store.Upload(ctx, w.config.StagingBucket, w.inputObject(job), r); err != nil {
		return fmt.Errorf("failed to stage %s: %w", filename, err)
	}
	return nil
}

// Wait starts the execution and polls it until it is terminal.
func (w *Workflows) Wait(ctx context.Context, job *RemoteJob) (*JobResult, error) {
	plan, err := json.Marshal(job.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	arg, err := json.Marshal(workflowArgument{
		JobID:        job.ID,
		Input:        fmt.Sprintf("gs://%s/%s", w.config.StagingBucket, w.inputObject(job)),
		OutputPrefix: fmt.Sprintf("gs://%s/jobs/%s/", w.config.OutputBucket, job.ID),
		Plan:         plan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow argument: %w", err)
	}

	exec, err := w.executions.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    w.parent(),
		Execution: &executionspb.Execution{Argument: string(arg)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow execution: %w", err)
	}
	logCtx := slog.With("jobId", job.ID, "execution", exec.GetName())
	logCtx.Info("Workflow execution started.")

	for {
		switch exec.GetState() {
		case executionspb.Execution_SUCCEEDED:
			return parseWorkflowResult(exec.GetResult())
		case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED:
			return nil, models.Errorf(models.KindRemoteFailure, "wait", "execution %s ended %s: %s",
				exec.GetName(), exec.GetState(), exec.GetError().GetPayload())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.config.PollInterval):
		}
		exec, err = w.executions.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: exec.GetName()})
		if err != nil {
			return nil, fmt.Errorf("failed to poll workflow execution: %w", err)
		}
	}
}

func parseWorkflowResult(raw string) (*JobResult, error) {
	var res workflowResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, models.Errorf(models.KindRemoteFailure, "wait", "unreadable execution result: %v", err)
	}
	return &JobResult{Exports: res.Exports}, nil
}

// Fetch opens a gs:// result through the object store.
func (w *Workflows) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(url, "gs://"), "/")
	if !strings.HasPrefix(url, "gs://") || !ok || object == "" {
		return nil, fmt.Errorf("not a gs:// object url: %q", url)
	}
	return w.store.Open(ctx, bucket, object)
}
