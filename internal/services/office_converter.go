package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/Lllllllleong/doctransform/internal/convert"
	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/staging"
)

// OfficeStore is the storage the office converter reads from and writes to.
type OfficeStore interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Exists(ctx context.Context, bucket, object string) (bool, error)
	SaveAtomically(ctx context.Context, bucket, object string, r io.Reader) (bool, error)
}

type OfficeConverterConfig struct {
	OutputBucket string
}

// OfficeConverterFunction converts office documents dropped into a bucket to
// PDF. Outputs are content addressed, so a re-delivered event or a duplicate
// upload is skipped.
type OfficeConverterFunction struct {
	store        OfficeStore
	stager       *staging.Stager
	orchestrator *convert.Orchestrator
	config       OfficeConverterConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewOfficeConverter(ctx context.Context) (*OfficeConverterFunction, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.GCP.OutputBucket == "" {
		return nil, fmt.Errorf("DOCTRANSFORM_GCP_OUTPUT_BUCKET environment variable must be set")
	}
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rt.Orchestrator == nil {
		return nil, fmt.Errorf("office conversion needs a conversion backend")
	}
	store, err := rt.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	f := NewOfficeConverterWith(store, rt.Stager, rt.Orchestrator, OfficeConverterConfig{OutputBucket: cfg.GCP.OutputBucket})
	slog.Info("Office converter initialized.", "outputBucket", cfg.GCP.OutputBucket)
	return f, nil
}

// NewOfficeConverterWith assembles the function from existing components.
func NewOfficeConverterWith(store OfficeStore, stager *staging.Stager, orchestrator *convert.Orchestrator, config OfficeConverterConfig) *OfficeConverterFunction {
	return &OfficeConverterFunction{store: store, stager: stager, orchestrator: orchestrator, config: config}
}

func (f *OfficeConverterFunction) Process(ctx context.Context, e GCSEvent) (*models.OfficeConversionResult, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	conv, _ := models.OpOfficeToPDF.Conversion()
	format := strings.ToLower(strings.TrimPrefix(path.Ext(e.Name), "."))
	if !conv.Accepts(format) {
		logCtx.Info("Not an office document. Skipping.", "format", format)
		return &models.OfficeConversionResult{Status: "skipped", Skipped: true}, nil
	}

	source, err := f.streamGCSObject(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return nil, err
	}
	defer source.ReleaseQuietly(logCtx)

	fileHash, err := calculateFileHash(source.Path)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	outputObject := fileHash + "." + conv.Target
	outputURI := fmt.Sprintf("gs://%s/%s", f.config.OutputBucket, outputObject)
	exists, err := f.store.Exists(ctx, f.config.OutputBucket, outputObject)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if exists {
		logCtx.Info("Duplicate file detected. Skipping.", "output", outputURI)
		return &models.OfficeConversionResult{Status: "skipped", OutputGCSUri: outputURI, Skipped: true}, nil
	}

	job, err := f.orchestrator.Run(ctx, convert.Source{Filename: path.Base(e.Name), Path: source.Path, Format: format}, conv.Target)
	if err != nil {
		return nil, f.handleError(logCtx, "failed to convert document", err)
	}
	logCtx = logCtx.With("jobId", job.ID)

	rc, err := f.orchestrator.Fetch(ctx, job)
	if err != nil {
		return nil, f.handleError(logCtx, "failed to fetch converted document", err)
	}
	defer rc.Close()

	created, err := f.store.SaveAtomically(ctx, f.config.OutputBucket, outputObject, rc)
	if err != nil {
		return nil, f.handleError(logCtx, "failed to store converted document", err)
	}
	logCtx.Info("Office document converted.", "output", outputURI, "created", created)
	return &models.OfficeConversionResult{Status: "success", OutputGCSUri: outputURI, Skipped: !created}, nil
}

// handleError logs a failed step and returns it with its kind preserved.
func (f *OfficeConverterFunction) handleError(logCtx *slog.Logger, message string, originalErr error) error {
	logCtx.Error(message, "kind", models.KindOf(originalErr), "error", originalErr)
	return fmt.Errorf("%s: %w", message, originalErr)
}

// streamGCSObject copies the object into the staging area.
func (f *OfficeConverterFunction) streamGCSObject(ctx context.Context, bucket, object string) (*staging.Resource, error) {
	rc, err := f.store.Open(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	res, err := f.stager.Acquire(ctx, path.Base(object), rc)
	if err != nil {
		return nil, fmt.Errorf("failed to copy GCS object to staging: %w", err)
	}
	return res, nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
