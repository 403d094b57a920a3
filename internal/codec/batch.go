package codec

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Input is one named payload of a batch.
type Input struct {
	Name string
	Data []byte
}

// LoadBatch loads inputs concurrently, at most limit at a time, and returns
// the documents in input order. An input that cannot be loaded, whether
// malformed or encrypted with a password it was not given, is logged and
// skipped. Only cancellation of ctx aborts the batch.
func LoadBatch(ctx context.Context, c Codec, inputs []Input, opts LoadOptions, limit int, logger *slog.Logger) ([]*models.Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 1
	}
	docs := make([]*models.Document, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		g.Go(func() error {
			doc, err := c.Load(gctx, in.Data, opts)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return fmt.Errorf("failed to load %s: %w", in.Name, ctxErr)
				}
				logger.Warn("Skipping unreadable input.", "input", in.Name, "index", i, "kind", models.KindOf(err), "error", err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	logger.Info("Batch loaded.", "inputs", len(inputs), "loaded", len(out))
	return out, nil
}
