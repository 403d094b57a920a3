package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/doctransform/internal/models"
)

func TestAcquireAndRelease(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), "report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Outstanding())
	assert.True(t, strings.HasSuffix(res.Path, "-report.pdf"))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, res.Release())
	_, err = os.Stat(res.Path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, s.Outstanding())
}

func TestRelease_SecondCallHasNoEffect(t *testing.T) {
	var calls int
	s, err := New(t.TempDir(), WithRemoveFunc(func(p string) error {
		calls++
		return os.Remove(p)
	}))
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, res.Release())
	require.NoError(t, res.Release())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.Outstanding())
}

func TestRelease_ConcurrentCallsDeleteOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	s, err := New(t.TempDir(), WithRemoveFunc(func(p string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return os.Remove(p)
	}))
	require.NoError(t, err)
	res, err := s.Acquire(context.Background(), "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, res.Release())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestRelease_FailureIsInternalAndReportedOnce(t *testing.T) {
	s, err := New(t.TempDir(), WithRemoveFunc(func(string) error { return errors.New("device busy") }))
	require.NoError(t, err)
	res, err := s.Acquire(context.Background(), "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	err = res.Release()
	require.Error(t, err)
	assert.Equal(t, models.KindInternal, models.KindOf(err))
	assert.NoError(t, res.Release())
	assert.Equal(t, 0, s.Outstanding())

	// ReleaseQuietly never panics or returns.
	res.ReleaseQuietly(nil)
	var nilRes *Resource
	nilRes.ReleaseQuietly(nil)
}

func TestRelease_MissingFileIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	res, err := s.Acquire(context.Background(), "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(res.Path))
	assert.NoError(t, res.Release())
}

func TestAcquire_UniqueNamesUnderConcurrency(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	const n = 32
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Acquire(context.Background(), "same.pdf", strings.NewReader("x"))
			if assert.NoError(t, err) {
				paths[i] = res.Path
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate staged path %s", p)
		seen[p] = true
	}
	assert.Equal(t, n, s.Outstanding())
}

func TestAcquire_CancelledContextLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(ctx, "a.pdf", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, s.Outstanding())
}

func TestCreate(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	res, f, err := s.Create("out.zip")
	require.NoError(t, err)
	_, err = f.WriteString("zip")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rf, err := res.Open()
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, res.Release())
}

func TestClose_RemovesCreatedDirectory(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	s, err := New("")
	require.NoError(t, err)
	dir := s.Dir()

	_, err = s.Acquire(context.Background(), "left.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, s.Close(), "closing twice is harmless")
}

func TestClose_KeepsSuppliedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd":   "passwd",
		"my report (1).docx": "my_report_1_.docx",
		"":                   "payload",
		"/":                  "payload",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got := sanitize(in)
			assert.Equal(t, want, got)
			assert.Equal(t, got, filepath.Base(got))
		})
	}
}
