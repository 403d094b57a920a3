// Package pipeline composes staging, the codec, the page operations and the
// conversion orchestrator into one request handler.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Lllllllleong/doctransform/internal/codec"
	"github.com/Lllllllleong/doctransform/internal/convert"
	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/staging"
)

// Media types of the results.
const (
	MediaPDF  = "application/pdf"
	MediaZip  = "application/zip"
	MediaJSON = "application/json"
)

// Payload is one uploaded input.
type Payload struct {
	Filename  string
	MediaType string
	Body      io.Reader
}

// Request is one operation over one or more payloads.
type Request struct {
	Operation models.Operation
	Inputs    []Payload
	// Params may be nil, in which case the operation's defaults apply.
	Params models.Params
}

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrency bounds in-process operations across requests and the
	// fan-out inside one request.
	MaxConcurrency int
	// FetchResult streams remote artifacts back instead of returning their URL.
	FetchResult bool
}

// Pipeline handles requests. It holds no per-request state.
type Pipeline struct {
	codec        codec.Codec
	stager       *staging.Stager
	orchestrator *convert.Orchestrator
	sem          *semaphore.Weighted
	config       Config
	logger       *slog.Logger
}

// New builds a pipeline. orchestrator may be nil when no conversion backend
// is configured; remote operations then fail with UNSUPPORTED_FORMAT.
func New(c codec.Codec, stager *staging.Stager, orchestrator *convert.Orchestrator, config Config, logger *slog.Logger) *Pipeline {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		codec:        c,
		stager:       stager,
		orchestrator: orchestrator,
		sem:          semaphore.NewWeighted(int64(config.MaxConcurrency)),
		config:       config,
		logger:       logger,
	}
}

// Result is a finished artifact. It stays on disk until Close, which the
// caller invokes after the response has been delivered.
type Result struct {
	MediaType string
	Filename  string
	// URL and JobID are set for remote conversions.
	URL   string
	JobID string

	artifact *staging.Resource
	inline   []byte
	logger   *slog.Logger
	once     sync.Once
}

// WriteTo streams the artifact to w.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	if r.artifact == nil {
		n, err := w.Write(r.inline)
		return int64(n), err
	}
	f, err := r.artifact.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

// Size returns the artifact size in bytes, or -1 when unknown.
func (r *Result) Size() int64 {
	if r.artifact == nil {
		return int64(len(r.inline))
	}
	st, err := os.Stat(r.artifact.Path)
	if err != nil {
		return -1
	}
	return st.Size()
}

// Close releases the artifact. It is safe to call more than once.
func (r *Result) Close() error {
	var err error
	r.once.Do(func() {
		if r.artifact != nil {
			err = r.artifact.Release()
			if err != nil {
				r.logger.Error("Output artifact leaked.", "kind", models.KindInternal, "error", err)
			}
		}
	})
	return err
}

// staged is a staged input with the metadata needed downstream.
type staged struct {
	res       *staging.Resource
	filename  string
	mediaType string
}

// Handle runs one request. Parameters are validated before any input is
// read. Staged inputs are released on every path before Handle returns.
func (p *Pipeline) Handle(ctx context.Context, req *Request) (*Result, error) {
	logCtx := p.logger.With("operation", req.Operation, "requestId", uuid.NewString(), "inputs", len(req.Inputs))

	params, err := p.validate(req)
	if err != nil {
		logCtx.Warn("Rejected request.", "kind", models.KindOf(err), "error", err)
		return nil, err
	}

	var sourceFormat string
	if req.Operation.Remote() {
		conv, _ := req.Operation.Conversion()
		declared := params.(models.ConvertParams).SourceFormat
		sourceFormat, err = convert.ResolveSourceFormat(conv, req.Inputs[0].Filename, declared)
		if err != nil {
			logCtx.Warn("Rejected request.", "kind", models.KindOf(err), "error", err)
			return nil, err
		}
		if p.orchestrator == nil {
			return nil, models.Errorf(models.KindUnsupportedFormat, string(req.Operation), "no conversion backend is configured")
		}
	}

	inputs := make([]staged, 0, len(req.Inputs))
	defer func() {
		for _, in := range inputs {
			in.res.ReleaseQuietly(logCtx)
		}
	}()
	for _, payload := range req.Inputs {
		res, err := p.stager.Acquire(ctx, payload.Filename, payload.Body)
		if err != nil {
			logCtx.Error("Failed to stage input.", "filename", payload.Filename, "error", err)
			return nil, fmt.Errorf("failed to stage %s: %w", payload.Filename, err)
		}
		inputs = append(inputs, staged{res: res, filename: payload.Filename, mediaType: payload.MediaType})
	}
	logCtx.Info("Inputs staged.")

	var result *Result
	if req.Operation.Remote() {
		result, err = p.runRemote(ctx, logCtx, req.Operation, inputs[0], sourceFormat)
	} else {
		result, err = p.runLocal(ctx, logCtx, req.Operation, params, inputs)
	}
	if err != nil {
		logCtx.Error("Operation failed.", "kind", models.KindOf(err), "error", err)
		return nil, err
	}
	logCtx.Info("Operation complete.", "filename", result.Filename, "mediaType", result.MediaType)
	return result, nil
}

// validate checks the request shape and parameters without touching inputs.
func (p *Pipeline) validate(req *Request) (models.Params, error) {
	op := req.Operation
	if !op.Known() {
		return nil, models.Errorf(models.KindUnsupportedFormat, string(op), "unknown operation")
	}
	switch n := len(req.Inputs); {
	case n == 0:
		return nil, models.Errorf(models.KindInvalidParameter, string(op), "at least one input is required")
	case n > 1 && !op.MultiInput():
		return nil, models.Errorf(models.KindInvalidParameter, string(op), "exactly one input is required, got %d", n)
	}
	for i, in := range req.Inputs {
		if in.Body == nil {
			return nil, models.Errorf(models.KindInvalidParameter, string(op), "input %d has no body", i)
		}
	}

	params := req.Params
	if params == nil {
		var err error
		if params, err = models.ParseParams(op, nil); err != nil {
			return nil, err
		}
	}
	if params.Operation() != op {
		return nil, models.Errorf(models.KindInvalidParameter, string(op), "parameters are for %s", params.Operation())
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if op == models.OpImagesToPDF {
		for _, in := range req.Inputs {
			if in.MediaType == "" || in.MediaType == "application/octet-stream" {
				continue
			}
			if _, err := codec.ImageFormat(in.MediaType, nil); err != nil {
				return nil, err
			}
		}
	}
	return params, nil
}

// runRemote delegates to the orchestrator. The staged input is read by the
// orchestrator and released by Handle afterwards.
func (p *Pipeline) runRemote(ctx context.Context, logCtx *slog.Logger, op models.Operation, in staged, sourceFormat string) (*Result, error) {
	conv, _ := op.Conversion()
	job, err := p.orchestrator.Run(ctx, convert.Source{
		Filename: in.filename,
		Path:     in.res.Path,
		Format:   sourceFormat,
	}, conv.Target)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(in.filename), filepath.Ext(in.filename)) + "." + conv.Target
	if !p.config.FetchResult {
		body, err := json.Marshal(models.ConversionResponse{Success: true, URL: job.ResultURL, JobID: job.ID})
		if err != nil {
			return nil, models.NewError(models.KindInternal, string(op), err)
		}
		return &Result{MediaType: MediaJSON, Filename: name, URL: job.ResultURL, JobID: job.ID, inline: body, logger: logCtx}, nil
	}

	rc, err := p.orchestrator.Fetch(ctx, job)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	result, err := p.writeArtifact(name, mediaTypeFor(conv.Target), logCtx, func(w io.Writer) error {
		_, err := io.Copy(w, rc)
		return err
	})
	if err != nil {
		return nil, err
	}
	result.URL, result.JobID = job.ResultURL, job.ID
	return result, nil
}

// writeArtifact stages an output file. On failure nothing is left behind.
func (p *Pipeline) writeArtifact(name, mediaType string, logCtx *slog.Logger, write func(io.Writer) error) (*Result, error) {
	res, f, err := p.stager.Create(name)
	if err != nil {
		return nil, err
	}
	werr := write(f)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		res.ReleaseQuietly(logCtx)
		var typed *models.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, models.NewError(models.KindInternal, "write", fmt.Errorf("failed to write %s: %w", name, err))
	}
	return &Result{MediaType: mediaType, Filename: name, artifact: res, logger: logCtx}, nil
}

func mediaTypeFor(ext string) string {
	switch ext {
	case "pdf":
		return MediaPDF
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}
