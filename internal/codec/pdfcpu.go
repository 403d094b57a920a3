package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Default page size used when a page carries no usable MediaBox (US Letter).
const (
	defaultWidth  = 612.0
	defaultHeight = 792.0
)

// PDFCPU implements Codec with pdfcpu.
type PDFCPU struct {
	logger *slog.Logger
}

// NewPDFCPU returns a pdfcpu backed codec.
func NewPDFCPU(logger *slog.Logger) *PDFCPU {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFCPU{logger: logger}
}

func (c *PDFCPU) config(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.UserPW = password
	conf.OwnerPW = password
	return conf
}

// read parses and validates data. pdfcpu panics on some corrupt inputs, so
// a panic is reported as malformed input.
func (c *PDFCPU) read(op string, data []byte, conf *model.Configuration) (pctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			pctx, err = nil, models.Errorf(models.KindMalformedInput, op, "unreadable document: %v", r)
		}
	}()
	pctx, err = api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, classifyReadError(op, err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, models.NewError(models.KindMalformedInput, op, err)
	}
	return pctx, nil
}

// classifyReadError separates a wrong password from a broken structure.
func classifyReadError(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "password") {
		return models.NewError(models.KindAuthFailed, op, err)
	}
	return models.NewError(models.KindMalformedInput, op, err)
}

// Load reads the page sequence of data. Encrypted documents are decrypted so
// the pages can be written again without the original password.
func (c *PDFCPU) Load(ctx context.Context, data []byte, opts LoadOptions) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pctx, err := c.read("load", data, c.config(opts.Password))
	if err != nil {
		return nil, err
	}

	plain := data
	if pctx.Encrypt != nil {
		var buf bytes.Buffer
		if err := api.Decrypt(bytes.NewReader(data), &buf, c.config(opts.Password)); err != nil {
			return nil, classifyReadError("decrypt", err)
		}
		plain = buf.Bytes()
	}

	src := &models.Source{ID: uuid.NewString(), Data: plain}
	doc := &models.Document{Pages: make([]models.Page, 0, pctx.PageCount)}
	for nr := 1; nr <= pctx.PageCount; nr++ {
		page, err := readPage(pctx, nr)
		if err != nil {
			return nil, models.NewError(models.KindMalformedInput, "load", err)
		}
		page.Content = models.ContentRef{Source: src, PageNr: nr}
		doc.Pages = append(doc.Pages, page)
	}
	return doc, nil
}

func readPage(pctx *model.Context, nr int) (models.Page, error) {
	_, _, inh, err := pctx.PageDict(nr, false)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to read page %d: %w", nr, err)
	}
	page := models.Page{Width: defaultWidth, Height: defaultHeight}
	if inh == nil {
		return page, nil
	}
	if mb := inh.MediaBox; mb != nil && mb.Width() > 0 && mb.Height() > 0 {
		page.Width, page.Height = mb.Width(), mb.Height()
	}
	page.Rotation = normalizeRotation(inh.Rotate)
	if cb := inh.CropBox; cb != nil {
		page.CropBox = &models.Rect{X: cb.LL.X, Y: cb.LL.Y, W: cb.Width(), H: cb.Height()}
	}
	return page, nil
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Save assembles the page sequence from its sources, writes every page's
// attributes and overlays and serializes the result.
func (c *PDFCPU) Save(ctx context.Context, doc *models.Document, opts SaveOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conf := c.config("")
	conf.WriteObjectStream = opts.Compress
	conf.WriteXRefStream = opts.Compress

	var pctx *model.Context
	if doc.PageCount() == 0 {
		empty, err := pdfcpu.CreateContextWithXRefTable(conf, &types.Dim{Width: defaultWidth, Height: defaultHeight})
		if err != nil {
			return nil, models.NewError(models.KindInternal, "save", fmt.Errorf("failed to create empty document: %w", err))
		}
		pctx = empty
	} else {
		base, err := c.assemble(doc)
		if err != nil {
			return nil, err
		}
		if pctx, err = c.read("save", base, conf); err != nil {
			return nil, models.NewError(models.KindInternal, "save", err)
		}
		if pctx.PageCount != doc.PageCount() {
			return nil, models.Errorf(models.KindInternal, "save", "assembled %d pages, want %d", pctx.PageCount, doc.PageCount())
		}
		for i, page := range doc.Pages {
			if err := applyPage(pctx, i+1, page); err != nil {
				return nil, models.NewError(models.KindInternal, "save", err)
			}
		}
		if opts.Compress {
			if err := api.OptimizeContext(pctx); err != nil {
				return nil, models.NewError(models.KindInternal, "save", fmt.Errorf("failed to optimize: %w", err))
			}
		}
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pctx, &buf); err != nil {
		return nil, models.NewError(models.KindInternal, "save", fmt.Errorf("failed to write: %w", err))
	}
	out := buf.Bytes()

	if opts.Encryption != nil {
		return c.encrypt(out, opts.Encryption)
	}
	return out, nil
}

// assemble builds one document holding the page content of doc in order.
// Consecutive pages from the same source are collected in a single pass.
func (c *PDFCPU) assemble(doc *models.Document) ([]byte, error) {
	type run struct {
		src   *models.Source
		pages []string
	}
	var runs []run
	for i, p := range doc.Pages {
		if p.Content.Source == nil || p.Content.PageNr < 1 {
			return nil, models.Errorf(models.KindInternal, "save", "page %d has no content", i+1)
		}
		nr := strconv.Itoa(p.Content.PageNr)
		if n := len(runs); n > 0 && runs[n-1].src == p.Content.Source {
			runs[n-1].pages = append(runs[n-1].pages, nr)
			continue
		}
		runs = append(runs, run{src: p.Content.Source, pages: []string{nr}})
	}

	parts := make([]io.ReadSeeker, 0, len(runs))
	for _, r := range runs {
		var buf bytes.Buffer
		if err := api.Collect(bytes.NewReader(r.src.Data), &buf, r.pages, c.config("")); err != nil {
			return nil, models.NewError(models.KindInternal, "save", fmt.Errorf("failed to collect pages %v: %w", r.pages, err))
		}
		parts = append(parts, bytes.NewReader(buf.Bytes()))
	}
	if len(parts) == 1 {
		b, err := io.ReadAll(parts[0])
		if err != nil {
			return nil, models.NewError(models.KindInternal, "save", err)
		}
		return b, nil
	}

	var merged bytes.Buffer
	if err := api.MergeRaw(parts, &merged, false, c.config("")); err != nil {
		return nil, models.NewError(models.KindInternal, "save", fmt.Errorf("failed to merge %d runs: %w", len(parts), err))
	}
	return merged.Bytes(), nil
}

// applyPage writes rotation, crop box and overlays into page nr.
func applyPage(pctx *model.Context, nr int, page models.Page) error {
	d, _, inh, err := pctx.PageDict(nr, true)
	if err != nil {
		return fmt.Errorf("failed to read page %d: %w", nr, err)
	}
	if d == nil {
		return fmt.Errorf("page %d not found", nr)
	}

	d["Rotate"] = types.Integer(normalizeRotation(page.Rotation))
	if cb := page.CropBox; cb != nil {
		d["CropBox"] = types.NewRectangle(cb.X, cb.Y, cb.X+cb.W, cb.Y+cb.H).Array()
	}
	if len(page.Overlays) == 0 {
		return nil
	}

	stream, err := renderOverlays(page.Overlays)
	if err != nil {
		return err
	}
	var res types.Dict
	if inh != nil {
		res = inh.Resources
	}
	res, err = overlayResources(pctx, res, stream)
	if err != nil {
		return err
	}
	d["Resources"] = res

	contents, err := wrapContents(pctx, d["Contents"], stream.content)
	if err != nil {
		return err
	}
	d["Contents"] = contents
	return nil
}

// overlayResources returns a copy of res extended with the overlay font and
// graphics states.
func overlayResources(pctx *model.Context, res types.Dict, stream overlayStream) (types.Dict, error) {
	out := types.Dict{}
	for k, v := range res {
		out[k] = v
	}

	fonts, err := subDict(pctx, out, "Font")
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
		return nil, fmt.Errorf("failed to add overlay font: %w", err)
	}
	fonts[overlayFont] = *font
	out["Font"] = fonts

	if len(stream.gstates) > 0 {
		gs, err := subDict(pctx, out, "ExtGState")
		if err != nil {
			return nil, err
		}
		for _, name := range stream.gstateNames() {
			alpha := types.Float(stream.gstates[name])
			gs[name] = types.Dict{"Type": types.Name("ExtGState"), "ca": alpha, "CA": alpha}
		}
		out["ExtGState"] = gs
	}
	return out, nil
}

// subDict returns a copy of the dictionary stored under key, resolving an
// indirect reference.
func subDict(pctx *model.Context, parent types.Dict, key string) (types.Dict, error) {
	out := types.Dict{}
	obj, ok := parent[key]
	if !ok || obj == nil {
		return out, nil
	}
	d, err := pctx.DereferenceDict(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /%s: %w", key, err)
	}
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

// wrapContents isolates the existing content in q/Q and appends overlay.
func wrapContents(pctx *model.Context, contents types.Object, overlay []byte) (types.Array, error) {
	var existing types.Array
	if contents != nil {
		obj, err := pctx.Dereference(contents)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve page contents: %w", err)
		}
		if arr, ok := obj.(types.Array); ok {
			existing = arr
		} else {
			existing = types.Array{contents}
		}
	}

	push, err := newContentStream(pctx, []byte("q\n"))
	if err != nil {
		return nil, err
	}
	pop, err := newContentStream(pctx, append([]byte("Q\n"), overlay...))
	if err != nil {
		return nil, err
	}
	out := make(types.Array, 0, len(existing)+2)
	out = append(out, *push)
	out = append(out, existing...)
	out = append(out, *pop)
	return out, nil
}

func newContentStream(pctx *model.Context, content []byte) (*types.IndirectRef, error) {
	sd, err := pctx.NewStreamDictForBuf(content)
	if err != nil {
		return nil, fmt.Errorf("failed to create content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("failed to encode content stream: %w", err)
	}
	ref, err := pctx.IndRefForNewObject(*sd)
	if err != nil {
		return nil, fmt.Errorf("failed to add content stream: %w", err)
	}
	return ref, nil
}

// encrypt applies AES-256 with the requested passwords and permissions.
func (c *PDFCPU) encrypt(data []byte, e *Encryption) ([]byte, error) {
	owner := e.OwnerPassword
	if owner == "" {
		owner = e.UserPassword
	}
	conf := model.NewAESConfiguration(e.UserPassword, owner, 256)
	conf.ValidationMode = model.ValidationRelaxed
	conf.Permissions = permissionFlags(e.Permissions)

	var buf bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(data), &buf, conf); err != nil {
		return nil, models.NewError(models.KindInternal, "encrypt", err)
	}
	c.logger.Debug("Document encrypted.", "permissions", fmt.Sprintf("%#04x", int(conf.Permissions)))
	return buf.Bytes(), nil
}

func permissionFlags(p models.Permissions) model.PermissionFlags {
	flags := model.PermissionsNone
	grant := func(ok bool, f model.PermissionFlags) {
		if ok {
			flags |= f
		}
	}
	grant(p.Printing, model.PermissionPrintRev2|model.PermissionPrintRev3)
	grant(p.Modifying, model.PermissionModify)
	grant(p.Copying, model.PermissionExtract)
	grant(p.Annotating, model.PermissionModAnnFillForm)
	grant(p.FillingForms, model.PermissionFillRev3)
	grant(p.Accessibility, model.PermissionExtractRev3)
	grant(p.Assembly, model.PermissionAssembleRev3)
	return flags
}
