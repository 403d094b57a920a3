package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/doctransform/internal/codec"
	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/transform"
)

// outputNames are the artifact names of the in-process operations.
var outputNames = map[models.Operation]string{
	models.OpMerge:       "merged.pdf",
	models.OpSplit:       "split.zip",
	models.OpCompress:    "compressed.pdf",
	models.OpRotate:      "rotated.pdf",
	models.OpCrop:        "crop.pdf",
	models.OpWatermark:   "watermark.pdf",
	models.OpOverwrite:   "edited.pdf",
	models.OpPageNumbers: "pages.pdf",
	models.OpProtect:     "protected.pdf",
	models.OpUnlock:      "unlocked.pdf",
	models.OpImagesToPDF: "images.pdf",
	models.OpExtractText: "text.json",
}

// runLocal executes an in-process operation under the CPU semaphore.
func (p *Pipeline) runLocal(ctx context.Context, logCtx *slog.Logger, op models.Operation, params models.Params, inputs []staged) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to schedule %s: %w", op, err)
	}
	defer p.sem.Release(1)

	data, err := readInputs(inputs)
	if err != nil {
		return nil, err
	}
	name := outputNames[op]

	switch op {
	case models.OpSplit:
		return p.split(ctx, logCtx, data[0], name)
	case models.OpExtractText:
		texts, err := p.codec.ExtractText(ctx, data[0].Data, codec.LoadOptions{})
		if err != nil {
			return nil, err
		}
		return p.writeArtifact(name, MediaJSON, logCtx, func(w io.Writer) error {
			return json.NewEncoder(w).Encode(models.TextExtraction{PageCount: len(texts), Pages: texts})
		})
	}

	doc, saveOpts, err := p.buildDocument(ctx, logCtx, op, params, inputs, data)
	if err != nil {
		return nil, err
	}
	out, err := p.codec.Save(ctx, doc, saveOpts)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Document serialized.", "pages", doc.PageCount(), "bytes", len(out))
	return p.writeArtifact(name, MediaPDF, logCtx, func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	})
}

// buildDocument loads the inputs and applies op, returning the document and
// the options it must be saved with.
func (p *Pipeline) buildDocument(ctx context.Context, logCtx *slog.Logger, op models.Operation, params models.Params, inputs []staged, data []codec.Input) (*models.Document, codec.SaveOptions, error) {
	var opts codec.SaveOptions

	switch op {
	case models.OpMerge:
		docs, err := codec.LoadBatch(ctx, p.codec, data, codec.LoadOptions{}, p.config.MaxConcurrency, logCtx)
		if err != nil {
			return nil, opts, err
		}
		return transform.Merge(docs...), opts, nil

	case models.OpImagesToPDF:
		docs, err := p.embedImages(ctx, inputs, data)
		if err != nil {
			return nil, opts, err
		}
		return transform.Merge(docs...), opts, nil
	}

	loadOpts := codec.LoadOptions{}
	if unlock, ok := params.(models.UnlockParams); ok {
		loadOpts.Password = unlock.Password
	}
	doc, err := p.codec.Load(ctx, data[0].Data, loadOpts)
	if err != nil {
		return nil, opts, err
	}

	switch prm := params.(type) {
	case models.RotateParams:
		doc, err = transform.Rotate(doc, prm)
	case models.CropParams:
		doc, err = transform.Crop(doc, prm)
	case models.WatermarkParams:
		doc, err = transform.Watermark(doc, prm)
	case models.OverwriteParams:
		doc, err = transform.Overwrite(doc, prm)
	case models.PageNumberParams:
		doc, err = transform.PageNumbers(doc, prm)
	case models.ProtectParams:
		opts.Encryption = &codec.Encryption{
			UserPassword:  prm.UserPassword,
			OwnerPassword: prm.OwnerPassword,
			Permissions:   prm.Permissions,
		}
	case models.UnlockParams:
	case models.NoParams:
		if op == models.OpCompress {
			opts.Compress = true
		}
	default:
		return nil, opts, models.Errorf(models.KindInternal, string(op), "unhandled parameters %T", params)
	}
	if err != nil {
		return nil, opts, err
	}
	return doc, opts, nil
}

// embedImages turns every image into a one-page document, keeping input order.
func (p *Pipeline) embedImages(ctx context.Context, inputs []staged, data []codec.Input) ([]*models.Document, error) {
	docs := make([]*models.Document, len(data))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)
	for i, in := range data {
		g.Go(func() error {
			doc, err := p.codec.EmbedImage(gctx, in.Data, inputs[i].mediaType)
			if err != nil {
				return fmt.Errorf("failed to embed %s: %w", in.Name, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// split serializes every page on its own and archives them as page-{i}.pdf.
func (p *Pipeline) split(ctx context.Context, logCtx *slog.Logger, in codec.Input, name string) (*Result, error) {
	doc, err := p.codec.Load(ctx, in.Data, codec.LoadOptions{})
	if err != nil {
		return nil, err
	}
	parts := transform.Split(doc)
	blobs := make([][]byte, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)
	for i, part := range parts {
		g.Go(func() error {
			b, err := p.codec.Save(gctx, part, codec.SaveOptions{})
			if err != nil {
				return fmt.Errorf("failed to save page %d: %w", i+1, err)
			}
			blobs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logCtx.Info("Document split.", "pages", len(blobs))
	return p.writeArtifact(name, MediaZip, logCtx, func(w io.Writer) error {
		return transform.WriteArchive(w, blobs, "pdf")
	})
}

// readInputs reads every staged file. The reads complete before Handle
// releases the files.
func readInputs(inputs []staged) ([]codec.Input, error) {
	out := make([]codec.Input, 0, len(inputs))
	for _, in := range inputs {
		b, err := os.ReadFile(in.res.Path)
		if err != nil {
			return nil, models.NewError(models.KindInternal, "read", fmt.Errorf("failed to read staged %s: %w", in.filename, err))
		}
		out = append(out, codec.Input{Name: in.filename, Data: b})
	}
	return out, nil
}
