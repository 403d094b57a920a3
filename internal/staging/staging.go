// Package staging manages request-scoped temporary copies of uploaded
// payloads and output artifacts. Every staged file is deleted exactly once.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Stager owns a staging directory shared by concurrent requests. Staged names
// are qualified with a timestamp and a UUID so they never collide.
type Stager struct {
	dir         string
	owned       bool
	remove      func(string) error
	now         func() time.Time
	outstanding atomic.Int64
}

// Option customizes a Stager.
type Option func(*Stager)

// WithRemoveFunc replaces os.Remove. Tests use it to observe or fail deletion.
func WithRemoveFunc(fn func(string) error) Option {
	return func(s *Stager) { s.remove = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Stager) { s.now = fn }
}

// New creates the staging directory if needed. An empty dir uses a fresh
// directory under os.TempDir, which Close removes.
func New(dir string, opts ...Option) (*Stager, error) {
	owned := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "doctransform-")
		if err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		dir, owned = tmp, true
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}
	s := &Stager{dir: dir, owned: owned, remove: os.Remove, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close removes the staging directory if New created it. A directory the
// caller supplied is left in place. Staged files still outstanding are
// removed with it and logged.
func (s *Stager) Close() error {
	if !s.owned {
		return nil
	}
	if n := s.Outstanding(); n > 0 {
		slog.Warn("Closing staging directory with outstanding files.", "dir", s.dir, "outstanding", n)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", s.dir, err)
	}
	return nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Outstanding reports how many staged files have not been released yet.
func (s *Stager) Outstanding() int { return int(s.outstanding.Load()) }

// Resource is one staged file. Release deletes it exactly once.
type Resource struct {
	Path      string
	Name      string
	CreatedAt time.Time

	stager  *Stager
	once    sync.Once
	release error
}

// Acquire copies r into a new staged file. On a copy failure nothing is left
// behind and the returned error is INTERNAL unless ctx was cancelled.
func (s *Stager) Acquire(ctx context.Context, name string, r io.Reader) (*Resource, error) {
	res, f, err := s.create(name)
	if err != nil {
		return nil, err
	}
	_, copyErr := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = res.Release()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", name, ctx.Err())
		}
		return nil, models.NewError(models.KindInternal, "stage", fmt.Errorf("failed to stage %s: %w", name, err))
	}
	return res, nil
}

// Create opens a new staged file for writing. The caller closes the file and
// owns the returned resource.
func (s *Stager) Create(name string) (*Resource, *os.File, error) {
	return s.create(name)
}

func (s *Stager) create(name string) (*Resource, *os.File, error) {
	now := s.now()
	staged := fmt.Sprintf("%d-%s-%s", now.UnixNano(), uuid.NewString(), sanitize(name))
	path := filepath.Join(s.dir, staged)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, models.NewError(models.KindInternal, "stage", fmt.Errorf("failed to create staged file: %w", err))
	}
	s.outstanding.Add(1)
	return &Resource{Path: path, Name: name, CreatedAt: now, stager: s}, f, nil
}

// Open opens the staged file for reading.
func (r *Resource) Open() (*os.File, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "stage", fmt.Errorf("failed to open staged file: %w", err))
	}
	return f, nil
}

// Release deletes the staged file. Only the first call has an effect; later
// calls return nil. A file that is already gone is not an error.
func (r *Resource) Release() error {
	first := false
	r.once.Do(func() {
		first = true
		r.stager.outstanding.Add(-1)
		if err := r.stager.remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.release = models.NewError(models.KindInternal, "release", fmt.Errorf("failed to delete %s: %w", r.Path, err))
		}
	})
	if !first {
		return nil
	}
	return r.release
}

// ReleaseQuietly releases the resource and logs a failure as a leak instead
// of returning it. It is meant for deferred cleanup after a primary result.
func (r *Resource) ReleaseQuietly(logger *slog.Logger) {
	if r == nil {
		return
	}
	if err := r.Release(); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("Staged file leaked.", "kind", models.KindInternal, "path", r.Path, "error", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize keeps the base name readable while stripping path separators.
func sanitize(name string) string {
	base := unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	if base == "" || base == "." || base == ".." || base == "_" {
		return "payload"
	}
	if len(base) > 64 {
		base = base[len(base)-64:]
	}
	return base
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
