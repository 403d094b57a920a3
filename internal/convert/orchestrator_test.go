package convert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/doctransform/internal/models"
)

type fakeBackend struct {
	createErr error
	uploadErr error
	wait      func(ctx context.Context) (*JobResult, error)

	uploaded string
	plan     *Plan
}

func (f *fakeBackend) CreateJob(ctx context.Context, plan *Plan) (*RemoteJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.plan = plan
	return &RemoteJob{ID: "remote-1", Plan: plan}, nil
}

func (f *fakeBackend) Upload(ctx context.Context, job *RemoteJob, task, filename string, r io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploaded = task + ":" + filename + ":" + string(b)
	return nil
}

func (f *fakeBackend) Wait(ctx context.Context, job *RemoteJob) (*JobResult, error) {
	if f.wait != nil {
		return f.wait(ctx)
	}
	return &JobResult{Exports: map[string][]string{TaskExport: {"https://example.test/out.pdf"}}}, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("artifact:" + url)), nil
}

type memRecorder struct {
	mu     sync.Mutex
	states []models.JobState
}

func (m *memRecorder) Record(ctx context.Context, job models.ConversionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, job.State)
	return nil
}

func stagedSource(t *testing.T) Source {
	t.Helper()
	p := filepath.Join(t.TempDir(), "staged-report.docx")
	require.NoError(t, os.WriteFile(p, []byte("docx-bytes"), 0o600))
	return Source{Filename: "report.docx", Path: p, Format: "docx"}
}

func TestOrchestrator_Done(t *testing.T) {
	backend := &fakeBackend{}
	rec := &memRecorder{}
	o := NewOrchestrator(backend, time.Second, WithRecorder(rec))

	job, err := o.Run(context.Background(), stagedSource(t), "pdf")
	require.NoError(t, err)

	assert.Equal(t, models.JobDone, job.State)
	assert.Equal(t, "https://example.test/out.pdf", job.ResultURL)
	assert.Equal(t, "remote-1", job.RemoteID)
	assert.Equal(t, "import-file:report.docx:docx-bytes", backend.uploaded)
	assert.Equal(t, []models.JobState{
		models.JobCreated, models.JobUploading, models.JobConverting, models.JobExporting, models.JobDone,
	}, rec.states)

	convert, ok := backend.plan.Task(TaskConvert)
	require.True(t, ok)
	assert.Equal(t, "docx", convert.InputFormat)
	assert.Equal(t, "pdf", convert.OutputFormat)

	rc, err := o.Fetch(context.Background(), job)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "artifact:https://example.test/out.pdf", string(body))
}

func TestOrchestrator_TimesOut(t *testing.T) {
	backend := &fakeBackend{wait: func(ctx context.Context) (*JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &memRecorder{}
	o := NewOrchestrator(backend, 20*time.Millisecond, WithRecorder(rec))

	job, err := o.Run(context.Background(), stagedSource(t), "pdf")
	require.Error(t, err)
	assert.Equal(t, models.KindTimeout, models.KindOf(err))
	assert.Equal(t, models.JobTimedOut, job.State)
	assert.Equal(t, models.KindTimeout, job.ErrorKind)
	assert.Equal(t, models.JobTimedOut, rec.states[len(rec.states)-1], "the terminal state is recorded after the deadline")
}

func TestOrchestrator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		backend   *fakeBackend
		wantState models.JobState
		wantKind  models.ErrorKind
	}{
		{
			name:      "create fails",
			backend:   &fakeBackend{createErr: errors.New("quota exceeded")},
			wantState: models.JobFailed,
			wantKind:  models.KindRemoteFailure,
		},
		{
			name:      "upload fails",
			backend:   &fakeBackend{uploadErr: errors.New("connection reset")},
			wantState: models.JobFailed,
			wantKind:  models.KindRemoteFailure,
		},
		{
			name: "remote job fails",
			backend: &fakeBackend{wait: func(context.Context) (*JobResult, error) {
				return nil, models.Errorf(models.KindRemoteFailure, "wait", "bad input format")
			}},
			wantState: models.JobFailed,
			wantKind:  models.KindRemoteFailure,
		},
		{
			name: "no exported file",
			backend: &fakeBackend{wait: func(context.Context) (*JobResult, error) {
				return &JobResult{Exports: map[string][]string{}}, nil
			}},
			wantState: models.JobFailed,
			wantKind:  models.KindRemoteFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(tt.backend, time.Second)
			job, err := o.Run(context.Background(), stagedSource(t), "pdf")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, models.KindOf(err))
			assert.Equal(t, tt.wantState, job.State)
			assert.True(t, job.State.Terminal())
			assert.Empty(t, job.ResultURL)
		})
	}
}

func TestOrchestrator_MissingStagedFileIsInternal(t *testing.T) {
	o := NewOrchestrator(&fakeBackend{}, time.Second)
	job, err := o.Run(context.Background(), Source{Filename: "a.docx", Path: "/does/not/exist", Format: "docx"}, "pdf")
	require.Error(t, err)
	assert.Equal(t, models.KindInternal, models.KindOf(err))
	assert.Equal(t, models.JobFailed, job.State)
}

func TestOrchestrator_CallerCancellationStopsWaiting(t *testing.T) {
	started := make(chan struct{})
	backend := &fakeBackend{wait: func(ctx context.Context) (*JobResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := NewOrchestrator(backend, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan struct{})
	var (
		job *models.ConversionJob
		err error
	)
	go func() {
		defer close(done)
		job, err = o.Run(ctx, stagedSource(t), "pdf")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestration kept running after cancellation")
	}
	require.Error(t, err)
	assert.Equal(t, models.KindInternal, models.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.JobFailed, job.State)
}

func TestOrchestrator_RejectsPlanBeforeSubmitting(t *testing.T) {
	backend := &fakeBackend{createErr: errors.New("must not be called")}
	o := NewOrchestrator(backend, time.Second)
	job, err := o.Run(context.Background(), Source{Filename: "noext", Path: "x"}, "pdf")
	assert.Nil(t, job)
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
}

func TestOrchestrator_FetchRequiresDoneJob(t *testing.T) {
	o := NewOrchestrator(&fakeBackend{}, time.Second)
	_, err := o.Fetch(context.Background(), &models.ConversionJob{ID: "j", State: models.JobFailed})
	assert.Error(t, err)
}

func TestNewPlan(t *testing.T) {
	p, err := NewPlan(".DOCX", "pdf")
	require.NoError(t, err)
	require.Len(t, p.Tasks, 3)
	assert.Equal(t, []string{TaskImport, TaskConvert, TaskExport}, []string{p.Tasks[0].Name, p.Tasks[1].Name, p.Tasks[2].Name})

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var doc struct {
		Tasks map[string]map[string]any `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "import/upload", doc.Tasks[TaskImport]["operation"])
	assert.Equal(t, "docx", doc.Tasks[TaskConvert]["input_format"])
	assert.Equal(t, "pdf", doc.Tasks[TaskConvert]["output_format"])
	assert.Equal(t, []any{TaskConvert}, doc.Tasks[TaskExport]["input"])

	_, err = NewPlan("", "pdf")
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
	_, err = NewPlan("docx", " ")
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
}

func TestResolveSourceFormat(t *testing.T) {
	word, _ := models.OpWordToPDF.Conversion()
	tests := []struct {
		name     string
		filename string
		declared string
		want     string
		wantKind models.ErrorKind
	}{
		{name: "from extension", filename: "Report.DOCX", want: "docx"},
		{name: "declared agrees", filename: "a.doc", declared: "DOC", want: "doc"},
		{name: "declared only", filename: "upload", declared: "rtf", want: "rtf"},
		{name: "conflict", filename: "a.doc", declared: "docx", wantKind: models.KindInvalidParameter},
		{name: "unknown", filename: "upload", wantKind: models.KindUnsupportedFormat},
		{name: "wrong family", filename: "sheet.xlsx", wantKind: models.KindUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSourceFormat(word, tt.filename, tt.declared)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
