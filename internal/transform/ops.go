// Package transform implements the page-level operations. Every function is
// pure: it returns a new document and leaves its inputs untouched.
package transform

import (
	"strconv"
	"unicode/utf8"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Geometry of the stamps drawn by the operations below.
const (
	watermarkAngle = 45.0

	// Approximate Helvetica advance width as a fraction of the font size.
	glyphWidthRatio = 0.6
	// Vertical padding of a redaction box beyond the font size.
	redactPadding = 6.0

	pageNumberRightInset = 62.0
	pageNumberBaseline   = 20.0
)

// Merge concatenates the page sequences of docs in list order. Nil entries
// contribute no pages.
func Merge(docs ...*models.Document) *models.Document {
	out := &models.Document{}
	for _, d := range docs {
		out.Pages = append(out.Pages, d.Clone().Pages...)
	}
	return out
}

// Split returns one single-page document per page, in page order.
func Split(doc *models.Document) []*models.Document {
	out := make([]*models.Document, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		pages, _ := models.CopyPages(doc, []int{i})
		out = append(out, &models.Document{Pages: pages})
	}
	return out
}

// Rotate adds the requested angle to every page's rotation.
func Rotate(doc *models.Document, p models.RotateParams) (*models.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := doc.Clone()
	for i := range out.Pages {
		out.Pages[i].Rotation = normalize(out.Pages[i].Rotation + p.Angle)
	}
	return out, nil
}

func normalize(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Crop sets the same crop box on every page. The box is not clipped to the
// media box.
func Crop(doc *models.Document, p models.CropParams) (*models.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := doc.Clone()
	for i := range out.Pages {
		box := p.Box
		out.Pages[i].CropBox = &box
	}
	return out, nil
}

// Watermark stamps the text diagonally on every page, starting a quarter of
// the way across at half height.
func Watermark(doc *models.Document, p models.WatermarkParams) (*models.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := doc.Clone()
	for i := range out.Pages {
		page := &out.Pages[i]
		page.Overlays = append(page.Overlays, models.Overlay{
			Kind:    models.OverlayText,
			X:       page.Width / 4,
			Y:       page.Height / 2,
			Text:    p.Text,
			Size:    p.Size,
			Color:   p.Color,
			Opacity: p.Opacity,
			Angle:   watermarkAngle,
		})
	}
	return out, nil
}

// Overwrite redacts and replaces text. For each entry an opaque white box
// covering the estimated text extent is drawn, then the new text. Entries are
// applied in order so later ones may cover earlier ones. Entry y is measured
// from the top of the page.
func Overwrite(doc *models.Document, p models.OverwriteParams) (*models.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := doc.Clone()
	for n, e := range p.Entries {
		idx := 0
		if e.Page > 0 {
			idx = e.Page - 1
		}
		if idx >= out.PageCount() {
			return nil, models.Errorf(models.KindInvalidParameter, string(models.OpOverwrite),
				"texts[%d].page %d exceeds page count %d", n, idx+1, out.PageCount())
		}
		color, err := models.ParseColor(e.Color)
		if err != nil {
			return nil, models.NewError(models.KindInvalidParameter, string(models.OpOverwrite), err)
		}

		page := &out.Pages[idx]
		x, y := e.X, page.Height-e.Y
		page.Overlays = append(page.Overlays,
			models.Overlay{
				Kind:  models.OverlayRect,
				X:     x,
				Y:     y,
				W:     float64(utf8.RuneCountInString(e.Text)) * e.Size * glyphWidthRatio,
				H:     e.Size + redactPadding,
				Color: models.White,
			},
			models.Overlay{
				Kind:  models.OverlayText,
				X:     x,
				Y:     y,
				Text:  e.Text,
				Size:  e.Size,
				Color: color,
			},
		)
	}
	return out, nil
}

// PageNumbers draws the 1-based page index near the bottom-right corner.
func PageNumbers(doc *models.Document, p models.PageNumberParams) (*models.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := doc.Clone()
	for i := range out.Pages {
		page := &out.Pages[i]
		page.Overlays = append(page.Overlays, models.Overlay{
			Kind:  models.OverlayText,
			X:     page.Width - pageNumberRightInset,
			Y:     pageNumberBaseline,
			Text:  strconv.Itoa(i + 1),
			Size:  p.Size,
			Color: models.Black,
		})
	}
	return out, nil
}
