package codec

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// ExtractText returns the plain text of every page. Encrypted documents are
// opened with opts.Password first.
func (c *PDFCPU) ExtractText(ctx context.Context, data []byte, opts LoadOptions) (texts []string, err error) {
	doc, err := c.Load(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	if doc.PageCount() == 0 {
		return []string{}, nil
	}
	plain, err := c.flattenContents(doc.Pages[0].Content.Source.Data)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, models.Errorf(models.KindMalformedInput, "extractText", "unreadable text layer: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(plain), int64(len(plain)))
	if err != nil {
		return nil, models.NewError(models.KindMalformedInput, "extractText", err)
	}

	texts = make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, models.NewError(models.KindMalformedInput, "extractText", fmt.Errorf("failed to extract page %d: %w", i, err))
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// flattenContents rewrites every page whose /Contents is an array of streams
// into a single stream. The text reader only follows single streams.
func (c *PDFCPU) flattenContents(data []byte) ([]byte, error) {
	conf := c.config("")
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	pctx, err := c.read("extractText", data, conf)
	if err != nil {
		return nil, err
	}

	flattened := 0
	for nr := 1; nr <= pctx.PageCount; nr++ {
		d, _, _, err := pctx.PageDict(nr, false)
		if err != nil || d == nil {
			return nil, models.Errorf(models.KindMalformedInput, "extractText", "failed to read page %d: %v", nr, err)
		}
		obj, err := pctx.Dereference(d["Contents"])
		if err != nil {
			return nil, models.NewError(models.KindMalformedInput, "extractText", fmt.Errorf("failed to resolve page %d contents: %w", nr, err))
		}
		arr, ok := obj.(types.Array)
		if !ok {
			continue
		}
		content, err := joinContents(pctx, arr)
		if err != nil {
			return nil, models.NewError(models.KindMalformedInput, "extractText", fmt.Errorf("page %d: %w", nr, err))
		}
		ref, err := newContentStream(pctx, content)
		if err != nil {
			return nil, models.NewError(models.KindInternal, "extractText", err)
		}
		d["Contents"] = *ref
		flattened++
	}
	if flattened == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pctx, &buf); err != nil {
		return nil, models.NewError(models.KindInternal, "extractText", fmt.Errorf("failed to write flattened document: %w", err))
	}
	return buf.Bytes(), nil
}

// joinContents decodes each stream of a content array and concatenates them,
// separated by newlines so operators of adjacent streams stay apart.
func joinContents(pctx *model.Context, arr types.Array) ([]byte, error) {
	var buf bytes.Buffer
	for _, o := range arr {
		if o == nil {
			continue
		}
		sd, _, err := pctx.DereferenceStreamDict(o)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve content stream: %w", err)
		}
		if sd == nil {
			continue
		}
		if err := sd.Decode(); err != nil {
			return nil, fmt.Errorf("failed to decode content stream: %w", err)
		}
		buf.Write(sd.Content)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
