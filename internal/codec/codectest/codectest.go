// Package codectest builds small PDF documents for tests.
package codectest

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Page describes one page of a generated document.
type Page struct {
	Width, Height float64
	// Content is an optional raw content stream. It may use the font /F1
	// (Helvetica).
	Content string
}

// PDF returns a well-formed document with the given pages. It panics if
// pdfcpu cannot build it.
func PDF(pages ...Page) []byte {
	b, err := build(pages)
	if err != nil {
		panic(err)
	}
	return b
}

func build(pages []Page) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	pctx, err := pdfcpu.CreateContextWithXRefTable(conf, types.PaperSize["Letter"])
	if err != nil {
		return nil, err
	}
	root, err := pctx.Pages()
	if err != nil {
		return nil, err
	}
	tree, err := pctx.DereferenceDict(*root)
	if err != nil {
		return nil, err
	}
	font, err := pctx.IndRefForNewObject(types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
		"Encoding": types.Name("WinAnsiEncoding"),
	})
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		sd, err := pctx.NewStreamDictForBuf([]byte(p.Content))
		if err != nil {
			return nil, err
		}
		if err := sd.Encode(); err != nil {
			return nil, err
		}
		contents, err := pctx.IndRefForNewObject(*sd)
		if err != nil {
			return nil, err
		}
		page, err := pctx.IndRefForNewObject(types.Dict{
			"Type":      types.Name("Page"),
			"Parent":    *root,
			"MediaBox":  types.RectForDim(p.Width, p.Height).Array(),
			"Resources": types.Dict{"Font": types.Dict{"F1": *font}},
			"Contents":  *contents,
		})
		if err != nil {
			return nil, err
		}
		if err := model.AppendPageTree(page, 1, tree); err != nil {
			return nil, err
		}
		pctx.PageCount++
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
