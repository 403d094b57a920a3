// Package codec turns raw document bytes into the in-memory page model and
// back. The PDF structure itself is handled by pdfcpu.
package codec

import (
	"context"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// LoadOptions controls how a document is opened.
type LoadOptions struct {
	// Password opens encrypted documents. It is tried as both the user and
	// the owner password.
	Password string
}

// Encryption is applied on save when set.
type Encryption struct {
	UserPassword  string
	OwnerPassword string
	Permissions   models.Permissions
}

// SaveOptions controls serialization.
type SaveOptions struct {
	// Compress writes object streams and a cross-reference stream.
	Compress   bool
	Encryption *Encryption
}

// Codec is the document capability used by the pipeline.
type Codec interface {
	// Load parses data. It fails with MALFORMED_INPUT when the structure
	// cannot be parsed and AUTH_FAILED when the password does not open it.
	Load(ctx context.Context, data []byte, opts LoadOptions) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document, opts SaveOptions) ([]byte, error)
	// EmbedImage returns a single page document sized to the image.
	EmbedImage(ctx context.Context, data []byte, mediaType string) (*models.Document, error)
	ExtractText(ctx context.Context, data []byte, opts LoadOptions) ([]string, error)
}
