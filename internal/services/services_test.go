package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/doctransform/internal/convert"
	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/staging"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
}

func (m *memStore) put(bucket, object string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[bucket+"/"+object] = data
}

func (m *memStore) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("gs://%s/%s not found", bucket, object)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+object]
	return ok, nil
}

func (m *memStore) SaveAtomically(ctx context.Context, bucket, object string, r io.Reader) (bool, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return false, err
	}
	if ok, _ := m.Exists(ctx, bucket, object); ok {
		return false, nil
	}
	m.put(bucket, object, b)
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return true, nil
}

type stubBackend struct {
	waitErr error
	runs    int
}

func (b *stubBackend) CreateJob(ctx context.Context, plan *convert.Plan) (*convert.RemoteJob, error) {
	b.runs++
	return &convert.RemoteJob{ID: "remote", Plan: plan}, nil
}

func (b *stubBackend) Upload(ctx context.Context, job *convert.RemoteJob, task, filename string, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (b *stubBackend) Wait(ctx context.Context, job *convert.RemoteJob) (*convert.JobResult, error) {
	if b.waitErr != nil {
		return nil, b.waitErr
	}
	return &convert.JobResult{Exports: map[string][]string{convert.TaskExport: {"https://files.test/out.pdf"}}}, nil
}

func (b *stubBackend) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("%PDF-converted")), nil
}

func newOfficeConverter(t *testing.T, store *memStore, backend *stubBackend) (*OfficeConverterFunction, *staging.Stager) {
	t.Helper()
	stager, err := staging.New(t.TempDir())
	require.NoError(t, err)
	o := convert.NewOrchestrator(backend, time.Second)
	return NewOfficeConverterWith(store, stager, o, OfficeConverterConfig{OutputBucket: "out"}), stager
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestOfficeConverter_ConvertsOnce(t *testing.T) {
	store := &memStore{}
	store.put("in", "uploads/report.docx", []byte("docx-bytes"))
	backend := &stubBackend{}
	f, stager := newOfficeConverter(t, store, backend)
	event := GCSEvent{Bucket: "in", Name: "uploads/report.docx"}

	res, err := f.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "gs://out/"+sha("docx-bytes")+".pdf", res.OutputGCSUri)
	assert.False(t, res.Skipped)
	assert.Equal(t, []byte("%PDF-converted"), store.objects["out/"+sha("docx-bytes")+".pdf"])
	assert.Zero(t, stager.Outstanding())

	again, err := f.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, 1, backend.runs, "a redelivered event is not converted twice")
	assert.Equal(t, 1, store.saves)
}

func TestOfficeConverter_SkipsOtherFormats(t *testing.T) {
	backend := &stubBackend{}
	f, _ := newOfficeConverter(t, &memStore{}, backend)
	res, err := f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "photo.png"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, backend.runs)
}

func TestOfficeConverter_RemoteFailure(t *testing.T) {
	store := &memStore{}
	store.put("in", "deck.pptx", []byte("pptx"))
	f, stager := newOfficeConverter(t, store, &stubBackend{waitErr: models.Errorf(models.KindRemoteFailure, "wait", "converter down")})

	_, err := f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "deck.pptx"})
	require.Error(t, err)
	assert.Equal(t, models.KindRemoteFailure, models.KindOf(err))
	assert.Zero(t, stager.Outstanding())
	assert.Zero(t, store.saves)
}

func TestOfficeConverter_MissingObject(t *testing.T) {
	f, _ := newOfficeConverter(t, &memStore{}, &stubBackend{})
	_, err := f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "gone.docx"})
	assert.Error(t, err)
}

type fakeSweeper struct {
	cutoff  time.Time
	deleted int
	err     error
}

func (s *fakeSweeper) Sweep(ctx context.Context, bucket, prefix string, cutoff time.Time) (int, error) {
	s.cutoff = cutoff
	return s.deleted, s.err
}

func TestArtifactSweeper(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSweeper{deleted: 3}
	f := NewArtifactSweeperWith(store, ArtifactSweeperConfig{Bucket: "out", TTL: 24 * time.Hour})
	f.now = func() time.Time { return now }

	res, err := f.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, now.Add(-24*time.Hour), store.cutoff)

	store.err = errors.New("listing failed")
	_, err = f.Process(context.Background())
	assert.Error(t, err)

	f.config.TTL = 0
	_, err = f.Process(context.Background())
	assert.Error(t, err)
}

func TestCalculateFileHash(t *testing.T) {
	stager, err := staging.New(t.TempDir())
	require.NoError(t, err)
	res, err := stager.Acquire(context.Background(), "a.bin", strings.NewReader("hello"))
	require.NoError(t, err)
	defer res.Release()

	got, err := calculateFileHash(res.Path)
	require.NoError(t, err)
	assert.Equal(t, sha("hello"), got)
}
