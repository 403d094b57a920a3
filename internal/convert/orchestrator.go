package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// RemoteJob is a job registered with a backend.
type RemoteJob struct {
	ID   string
	Plan *Plan
	// UploadURL and UploadFields describe the import task's upload form for
	// backends that use one.
	UploadURL    string
	UploadFields map[string]string
}

// JobResult is the terminal state of a finished remote job.
type JobResult struct {
	// Exports maps export task names to the URLs of their result files.
	Exports map[string][]string
}

// Backend is a remote conversion capability.
type Backend interface {
	// CreateJob registers the plan's task graph.
	CreateJob(ctx context.Context, plan *Plan) (*RemoteJob, error)
	// Upload streams the source into the named import task.
	Upload(ctx context.Context, job *RemoteJob, task, filename string, r io.Reader) error
	// Wait blocks until the job is terminal. A failed job is an error.
	Wait(ctx context.Context, job *RemoteJob) (*JobResult, error)
	// Fetch opens a result artifact.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Recorder observes every job state change.
type Recorder interface {
	Record(ctx context.Context, job models.ConversionJob) error
}

// Source is a staged local input.
type Source struct {
	Filename string
	Path     string
	Format   string
}

// Orchestrator drives ConversionJobs against a Backend.
type Orchestrator struct {
	backend  Backend
	timeout  time.Duration
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every transition.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

// NewOrchestrator bounds every job by timeout, measured from submission to
// the resolved artifact URL.
func NewOrchestrator(backend Backend, timeout time.Duration, opts ...Option) *Orchestrator {
	o := &Orchestrator{backend: backend, timeout: timeout, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run converts src to target. The returned job is terminal: DONE with a
// ResultURL, or FAILED / TIMED_OUT together with a typed error. Cancelling
// ctx stops the orchestration; the remote job may keep running.
func (o *Orchestrator) Run(ctx context.Context, src Source, target string) (*models.ConversionJob, error) {
	plan, err := NewPlan(src.Format, target)
	if err != nil {
		return nil, err
	}

	job := models.NewConversionJob(uuid.NewString(), plan.SourceFormat, plan.TargetFormat, o.now())
	logCtx := o.logger.With("jobId", job.ID, "sourceFormat", job.SourceFormat, "targetFormat", job.TargetFormat)
	logCtx.Info("Conversion job created.")
	o.record(ctx, logCtx, job)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	fail := func(stage string, err error) (*models.ConversionJob, error) {
		typed := o.classify(ctx, runCtx, stage, err)
		from := job.State
		job.Fail(typed, o.now())
		logCtx.Error("Conversion job failed.", "from", from, "to", job.State, "kind", job.ErrorKind, "error", err)
		o.record(ctx, logCtx, job)
		return job, typed
	}

	remote, err := o.backend.CreateJob(runCtx, plan)
	if err != nil {
		return fail("create job", err)
	}
	job.RemoteID = remote.ID
	o.transition(ctx, logCtx, job, models.JobUploading)

	f, err := os.Open(src.Path)
	if err != nil {
		return fail("upload", models.NewError(models.KindInternal, "upload", fmt.Errorf("failed to open staged input: %w", err)))
	}
	err = o.backend.Upload(runCtx, remote, TaskImport, src.Filename, f)
	_ = f.Close()
	if err != nil {
		return fail("upload", err)
	}
	o.transition(ctx, logCtx, job, models.JobConverting)

	result, err := o.backend.Wait(runCtx, remote)
	if err != nil {
		return fail("wait", err)
	}
	o.transition(ctx, logCtx, job, models.JobExporting)

	if result == nil || len(result.Exports[TaskExport]) == 0 {
		return fail("export", models.Errorf(models.KindRemoteFailure, "export", "task %s produced no file", TaskExport))
	}
	job.ResultURL = result.Exports[TaskExport][0]
	o.transition(ctx, logCtx, job, models.JobDone)
	return job, nil
}

// Fetch opens the artifact of a finished job.
func (o *Orchestrator) Fetch(ctx context.Context, job *models.ConversionJob) (io.ReadCloser, error) {
	if job.State != models.JobDone || job.ResultURL == "" {
		return nil, models.Errorf(models.KindInternal, "fetch", "job %s is %s, not DONE", job.ID, job.State)
	}
	rc, err := o.backend.Fetch(ctx, job.ResultURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindInternal, "fetch", ctx.Err())
		}
		return nil, models.NewError(models.KindRemoteFailure, "fetch", err)
	}
	return rc, nil
}

// classify maps a failure onto the error taxonomy. The caller's own
// cancellation takes precedence, then the job timeout.
func (o *Orchestrator) classify(ctx, runCtx context.Context, stage string, err error) error {
	switch {
	case ctx.Err() != nil:
		return models.NewError(models.KindInternal, stage, fmt.Errorf("orchestration cancelled: %w", ctx.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return models.NewError(models.KindTimeout, stage, fmt.Errorf("remote job exceeded %s: %w", o.timeout, err))
	}
	var typed *models.Error
	if errors.As(err, &typed) {
		return err
	}
	return models.NewError(models.KindRemoteFailure, stage, err)
}

// transition applies a forward move. The orchestrator only issues legal
// transitions, so an error here is a programming mistake and is logged.
func (o *Orchestrator) transition(ctx context.Context, logCtx *slog.Logger, job *models.ConversionJob, to models.JobState) {
	from := job.State
	if err := job.Transition(to, o.now()); err != nil {
		logCtx.Error("Illegal job transition.", "from", from, "to", to, "error", err)
		return
	}
	logCtx.Info("Conversion job transitioned.", "from", from, "to", to)
	o.record(ctx, logCtx, job)
}

// record hands a snapshot to the recorder. It runs detached from ctx so the
// final FAILED or TIMED_OUT state is still recorded after a cancellation.
func (o *Orchestrator) record(ctx context.Context, logCtx *slog.Logger, job *models.ConversionJob) {
	if o.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.recorder.Record(recCtx, *job); err != nil {
		logCtx.Warn("Failed to record job state.", "state", job.State, "error", err)
	}
}
