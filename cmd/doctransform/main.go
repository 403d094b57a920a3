package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/doctransform/internal/httpapi"
	"github.com/Lllllllleong/doctransform/internal/services"
)

var (
	handler *httpapi.Handler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("Transform", handleTransform)
}

func main() {}

// handleTransform serves POST /{operation}.
func handleTransform(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := services.LoadConfig()
		if err != nil {
			initErr = err
			return
		}
		rt, err := services.NewRuntime(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handler = httpapi.New(rt.Pipeline, cfg.UploadLimitBytes, slog.Default())
	})
	if initErr != nil {
		slog.Error("Critical: Transform initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
