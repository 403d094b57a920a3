package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	_ "golang.org/x/image/tiff"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// imageFormats maps accepted media types to the decoder name registered with
// the image package.
var imageFormats = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/tiff": "tiff",
}

// ImageFormat resolves a media type, falling back to content sniffing when
// mediaType is empty or generic.
func ImageFormat(mediaType string, data []byte) (string, error) {
	mt := mediaType
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mt = parsed
	}
	mt = strings.ToLower(mt)
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(data)
	}
	format, ok := imageFormats[mt]
	if !ok {
		return "", models.Errorf(models.KindUnsupportedFormat, "embedImage", "media type %q is not a supported image", mt)
	}
	return format, nil
}

// EmbedImage places the image on a page of exactly its pixel dimensions.
func (c *PDFCPU) EmbedImage(ctx context.Context, data []byte, mediaType string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := ImageFormat(mediaType, data)
	if err != nil {
		return nil, err
	}
	cfg, got, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewError(models.KindMalformedInput, "embedImage", fmt.Errorf("failed to decode image: %w", err))
	}
	if got != want {
		return nil, models.Errorf(models.KindMalformedInput, "embedImage", "declared %s but content is %s", want, got)
	}

	imp, err := api.Import("pos:full", types.POINTS)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "embedImage", err)
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(data)}, imp, c.config("")); err != nil {
		return nil, models.NewError(models.KindMalformedInput, "embedImage", fmt.Errorf("failed to import image: %w", err))
	}

	doc, err := c.Load(ctx, buf.Bytes(), LoadOptions{})
	if err != nil {
		return nil, err
	}
	for i := range doc.Pages {
		doc.Pages[i].Width = float64(cfg.Width)
		doc.Pages[i].Height = float64(cfg.Height)
	}
	c.logger.Debug("Image embedded.", "format", got, "width", cfg.Width, "height", cfg.Height)
	return doc, nil
}
