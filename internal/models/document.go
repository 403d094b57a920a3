package models

import "fmt"

// Source is the decrypted serialized document a page was read from.
// Pages of one loaded document share the same *Source.
type Source struct {
	ID   string
	Data []byte
}

// ContentRef points at a page's content inside its source document.
// PageNr is 1-based, as in the PDF page tree.
type ContentRef struct {
	Source *Source
	PageNr int
}

// Rect is an axis-aligned rectangle in PDF user space (origin bottom-left).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Color is an RGB color with components in [0,1].
type Color struct {
	R, G, B float64
}

var (
	Black = Color{0, 0, 0}
	White = Color{1, 1, 1}
)

// OverlayKind selects how an Overlay is drawn.
type OverlayKind int

const (
	OverlayRect OverlayKind = iota + 1
	OverlayText
)

// Overlay is a drawing operation stamped on top of a page's content.
// Rectangles use X, Y, W, H; text uses X, Y as the baseline origin.
// Angle is in degrees counter-clockwise; Opacity 0 means fully opaque.
type Overlay struct {
	Kind    OverlayKind
	X, Y    float64
	W, H    float64
	Text    string
	Size    float64
	Color   Color
	Opacity float64
	Angle   float64
}

// Page is one entry of a document's page sequence.
type Page struct {
	Width    float64
	Height   float64
	Content  ContentRef
	Rotation int
	CropBox  *Rect
	Overlays []Overlay
}

// Document is the in-memory page sequence of a loaded document. It is owned by
// the pipeline invocation that loaded it and never shared across requests.
type Document struct {
	Pages []Page
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	if d == nil {
		return 0
	}
	return len(d.Pages)
}

// Clone returns a deep copy. Sources are shared, they are immutable.
func (d *Document) Clone() *Document {
	if d == nil {
		return &Document{}
	}
	out := &Document{Pages: make([]Page, len(d.Pages))}
	for i, p := range d.Pages {
		out.Pages[i] = p.clone()
	}
	return out
}

func (p Page) clone() Page {
	c := p
	if p.CropBox != nil {
		box := *p.CropBox
		c.CropBox = &box
	}
	if p.Overlays != nil {
		c.Overlays = append([]Overlay(nil), p.Overlays...)
	}
	return c
}

// CopyPages adopts the pages at the given 0-based indices of src, in the given
// order. Content is preserved; the copies carry no tie to src's page slice.
func CopyPages(src *Document, indices []int) ([]Page, error) {
	out := make([]Page, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= src.PageCount() {
			return nil, Errorf(KindInvalidParameter, "copyPages", "page index %d out of range [0,%d)", i, src.PageCount())
		}
		out = append(out, src.Pages[i].clone())
	}
	return out, nil
}

// String is used in log lines.
func (r Rect) String() string {
	return fmt.Sprintf("[%g %g %g %g]", r.X, r.Y, r.W, r.H)
}
