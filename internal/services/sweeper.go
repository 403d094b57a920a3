package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Sweeper deletes objects created before a cutoff.
type Sweeper interface {
	Sweep(ctx context.Context, bucket, prefix string, cutoff time.Time) (int, error)
}

type ArtifactSweeperConfig struct {
	Bucket string
	Prefix string
	TTL    time.Duration
}

// ArtifactSweeperFunction removes expired conversion outputs.
type ArtifactSweeperFunction struct {
	store  Sweeper
	config ArtifactSweeperConfig
	now    func() time.Time
}

func NewArtifactSweeper(ctx context.Context) (*ArtifactSweeperFunction, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.GCP.OutputBucket == "" {
		return nil, fmt.Errorf("DOCTRANSFORM_GCP_OUTPUT_BUCKET environment variable must be set")
	}
	rt := &Runtime{Config: cfg}
	store, err := rt.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	f := NewArtifactSweeperWith(store, ArtifactSweeperConfig{Bucket: cfg.GCP.OutputBucket, TTL: cfg.Artifacts.TTL})
	slog.Info("Artifact sweeper initialized.", "bucket", cfg.GCP.OutputBucket, "ttl", cfg.Artifacts.TTL.String())
	return f, nil
}

func NewArtifactSweeperWith(store Sweeper, config ArtifactSweeperConfig) *ArtifactSweeperFunction {
	return &ArtifactSweeperFunction{store: store, config: config, now: time.Now}
}

func (f *ArtifactSweeperFunction) Process(ctx context.Context) (*models.SweepResponse, error) {
	if f.config.TTL <= 0 {
		return nil, fmt.Errorf("artifact ttl must be positive, got %s", f.config.TTL)
	}
	cutoff := f.now().Add(-f.config.TTL)
	logCtx := slog.With("gcsBucket", f.config.Bucket, "cutoff", cutoff)
	deleted, err := f.store.Sweep(ctx, f.config.Bucket, f.config.Prefix, cutoff)
	if err != nil {
		logCtx.Error("Sweep failed.", "deleted", deleted, "error", err)
		return nil, fmt.Errorf("failed to sweep artifacts: %w", err)
	}
	return &models.SweepResponse{Status: "success", Deleted: deleted}, nil
}
