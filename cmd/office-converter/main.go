package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/doctransform/internal/services"
)

var (
	converterInstance *services.OfficeConverterFunction
	converterOnce     sync.Once
	converterErr      error

	sweeperInstance *services.ArtifactSweeperFunction
	sweeperOnce     sync.Once
	sweeperErr      error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ConvertOfficeUpload", convertOfficeUpload)
	functions.HTTP("SweepArtifacts", sweepArtifacts)
}

// main is required by the Go Functions Framework.
func main() {}

// convertOfficeUpload handles a storage finalize event.
func convertOfficeUpload(ctx context.Context, e cloudevents.Event) error {
	converterOnce.Do(func() {
		converterInstance, converterErr = services.NewOfficeConverter(context.Background())
	})
	if converterErr != nil {
		slog.Error("Critical error during function initialization", "error", converterErr)
		return converterErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process; returning one marks the
	// invocation as failed so the event is redelivered.
	_, err := converterInstance.Process(ctx, gcsEvent)
	return err
}

// sweepArtifacts is triggered by a scheduler.
func sweepArtifacts(w http.ResponseWriter, r *http.Request) {
	sweeperOnce.Do(func() {
		sweeperInstance, sweeperErr = services.NewArtifactSweeper(context.Background())
	})
	if sweeperErr != nil {
		slog.Error("Critical: Sweeper initialization failed", "error", sweeperErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	res, err := sweeperInstance.Process(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error: sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
