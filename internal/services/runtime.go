package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/doctransform/internal/codec"
	"github.com/Lllllllleong/doctransform/internal/config"
	"github.com/Lllllllleong/doctransform/internal/convert"
	"github.com/Lllllllleong/doctransform/internal/gcp"
	"github.com/Lllllllleong/doctransform/internal/pipeline"
	"github.com/Lllllllleong/doctransform/internal/staging"
)

// Runtime is the wired service: the pipeline plus the clients behind it.
// Orchestrator and Store are nil when the configuration does not need them.
type Runtime struct {
	Config       *config.Config
	Stager       *staging.Stager
	Orchestrator *convert.Orchestrator
	Store        *gcp.ObjectStore
	Pipeline     *pipeline.Pipeline
}

// LoadConfig reads the environment, plus the file named by DOCTRANSFORM_CONFIG
// when set.
func LoadConfig() (*config.Config, error) {
	v := config.New()
	if path := gcp.GetEnv("DOCTRANSFORM_CONFIG", ""); path != "" {
		v.SetConfigFile(path)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// NewRuntime builds every component cfg asks for.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	stager, err := staging.New(cfg.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	rt := &Runtime{Config: cfg, Stager: stager}

	backend, err := rt.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		opts := []convert.Option{}
		if cfg.GCP.LedgerEnabled {
			client, err := gcp.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
			if err != nil {
				return nil, err
			}
			opts = append(opts, convert.WithRecorder(gcp.NewJobLedger(client, cfg.GCP.Collection)))
		}
		rt.Orchestrator = convert.NewOrchestrator(backend, cfg.Conversion.Timeout, opts...)
	}

	rt.Pipeline = pipeline.New(codec.NewPDFCPU(slog.Default()), stager, rt.Orchestrator, pipeline.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		FetchResult:    cfg.Conversion.FetchResult,
	}, slog.Default())

	slog.Info("Runtime initialized.",
		"stagingDir", stager.Dir(),
		"backend", cfg.Conversion.Backend,
		"maxConcurrency", cfg.MaxConcurrency,
		"ledger", cfg.GCP.LedgerEnabled,
	)
	return rt, nil
}

func (rt *Runtime) newBackend(ctx context.Context) (convert.Backend, error) {
	cfg := rt.Config
	switch cfg.Conversion.Backend {
	case config.BackendCloudConvert:
		return convert.NewCloudConvert(&http.Client{Timeout: cfg.Conversion.Timeout}, convert.CloudConvertConfig{
			APIKey:       cfg.CloudConvert.APIKey,
			BaseURL:      cfg.CloudConvert.BaseURL,
			SyncURL:      cfg.CloudConvert.SyncURL,
			PollInterval: cfg.Conversion.PollInterval,
		})
	case config.BackendWorkflows:
		store, err := rt.objectStore(ctx)
		if err != nil {
			return nil, err
		}
		executions, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
		return convert.NewWorkflows(store, executions, convert.WorkflowsConfig{
			ProjectID:     cfg.GCP.ProjectID,
			Location:      cfg.GCP.WorkflowLocation,
			WorkflowID:    cfg.GCP.WorkflowID,
			StagingBucket: cfg.GCP.StagingBucket,
			OutputBucket:  cfg.GCP.OutputBucket,
			PollInterval:  cfg.Conversion.PollInterval,
		})
	default:
		return nil, nil
	}
}

// Close releases what the runtime created locally.
func (rt *Runtime) Close() error {
	return rt.Stager.Close()
}

// objectStore creates the storage client on first use.
func (rt *Runtime) objectStore(ctx context.Context) (*gcp.ObjectStore, error) {
	if rt.Store != nil {
		return rt.Store, nil
	}
	store, err := gcp.NewObjectStoreFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	return store, nil
}
