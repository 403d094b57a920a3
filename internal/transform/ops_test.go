package transform

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/doctransform/internal/codec"
	"github.com/Lllllllleong/doctransform/internal/codec/codectest"
	"github.com/Lllllllleong/doctransform/internal/models"
)

func blank(sizes ...float64) *models.Document {
	src := &models.Source{ID: "src"}
	doc := &models.Document{}
	for i, w := range sizes {
		doc.Pages = append(doc.Pages, models.Page{
			Width:   w,
			Height:  792,
			Content: models.ContentRef{Source: src, PageNr: i + 1},
		})
	}
	return doc
}

func TestMerge(t *testing.T) {
	a, b := blank(100, 200), blank(300)
	out := Merge(a, nil, b, &models.Document{})

	require.Equal(t, 3, out.PageCount())
	assert.Equal(t, 100.0, out.Pages[0].Width)
	assert.Equal(t, 200.0, out.Pages[1].Width)
	assert.Equal(t, 300.0, out.Pages[2].Width)

	assert.Equal(t, 0, Merge().PageCount(), "merging nothing yields an empty document")
}

func TestSplit(t *testing.T) {
	parts := Split(blank(100, 200, 300))
	require.Len(t, parts, 3)
	for i, p := range parts {
		require.Equal(t, 1, p.PageCount())
		assert.Equal(t, i+1, p.Pages[0].Content.PageNr)
	}
	assert.Empty(t, Split(&models.Document{}))
}

func TestSplitOfMergeKeepsOrder(t *testing.T) {
	c := codec.NewPDFCPU(nil)
	ctx := context.Background()
	sizes := []float64{210, 220, 230, 240}

	var docs []*models.Document
	for _, w := range sizes {
		d, err := c.Load(ctx, codectest.PDF(codectest.Page{Width: w, Height: 500}), codec.LoadOptions{})
		require.NoError(t, err)
		docs = append(docs, d)
	}

	merged, err := c.Save(ctx, Merge(docs...), codec.SaveOptions{})
	require.NoError(t, err)
	reloaded, err := c.Load(ctx, merged, codec.LoadOptions{})
	require.NoError(t, err)

	parts := Split(reloaded)
	require.Len(t, parts, len(sizes))
	for i, part := range parts {
		data, err := c.Save(ctx, part, codec.SaveOptions{})
		require.NoError(t, err)
		single, err := c.Load(ctx, data, codec.LoadOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, single.PageCount())
		assert.Equal(t, sizes[i], single.Pages[0].Width)
	}
}

func TestRotate(t *testing.T) {
	doc := blank(100, 200)
	doc.Pages[1].Rotation = 90

	tests := []struct {
		angle int
		want  []int
	}{
		{angle: 90, want: []int{90, 180}},
		{angle: -90, want: []int{270, 0}},
		{angle: 450, want: []int{90, 180}},
		{angle: 0, want: []int{0, 90}},
	}
	for _, tt := range tests {
		out, err := Rotate(doc, models.RotateParams{Angle: tt.angle})
		require.NoError(t, err)
		assert.Equal(t, tt.want, []int{out.Pages[0].Rotation, out.Pages[1].Rotation}, "angle %d", tt.angle)
	}

	_, err := Rotate(doc, models.RotateParams{Angle: 45})
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
	assert.Equal(t, 90, doc.Pages[1].Rotation, "the input is not modified")
}

func TestRotateFourTimesIsIdentity(t *testing.T) {
	for _, start := range []int{0, 90, 180, 270} {
		doc := blank(100)
		doc.Pages[0].Rotation = start
		for i := 0; i < 4; i++ {
			var err error
			doc, err = Rotate(doc, models.RotateParams{Angle: 90})
			require.NoError(t, err)
		}
		assert.Equal(t, start, doc.Pages[0].Rotation)
	}
}

func TestCrop(t *testing.T) {
	box := models.Rect{X: -10, Y: 0, W: 5000, H: 20}
	out, err := Crop(blank(100, 200), models.CropParams{Box: box})
	require.NoError(t, err)
	for _, p := range out.Pages {
		require.NotNil(t, p.CropBox)
		assert.Equal(t, box, *p.CropBox)
	}
	out.Pages[0].CropBox.W = 1
	assert.Equal(t, 5000.0, out.Pages[1].CropBox.W, "pages do not share a crop box")
}

func TestWatermark(t *testing.T) {
	out, err := Watermark(blank(600), models.DefaultWatermark())
	require.NoError(t, err)
	require.Len(t, out.Pages[0].Overlays, 1)

	o := out.Pages[0].Overlays[0]
	assert.Equal(t, models.OverlayText, o.Kind)
	assert.Equal(t, "SAMPLE", o.Text)
	assert.Equal(t, 150.0, o.X)
	assert.Equal(t, 396.0, o.Y)
	assert.Equal(t, 45.0, o.Angle)
	assert.Equal(t, 0.3, o.Opacity)
	assert.Equal(t, 50.0, o.Size)

	_, err = Watermark(blank(600), models.WatermarkParams{Text: "x", Opacity: 0, Size: 10})
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
}

func TestOverwrite(t *testing.T) {
	doc := blank(612)
	out, err := Overwrite(doc, models.OverwriteParams{Entries: []models.OverwriteEntry{
		{X: 10, Y: 20, Text: "A", Size: 12, Color: "#000000"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, out.PageCount())
	require.Len(t, out.Pages[0].Overlays, 2)

	rect, text := out.Pages[0].Overlays[0], out.Pages[0].Overlays[1]
	assert.Equal(t, models.OverlayRect, rect.Kind, "the box is drawn before the glyph")
	assert.Equal(t, 10.0, rect.X)
	assert.Equal(t, 772.0, rect.Y)
	assert.InDelta(t, 7.2, rect.W, 1e-9)
	assert.Equal(t, 18.0, rect.H)
	assert.Equal(t, models.White, rect.Color)
	assert.Equal(t, 0.0, rect.Opacity)

	assert.Equal(t, models.OverlayText, text.Kind)
	assert.Equal(t, "A", text.Text)
	assert.Equal(t, models.Black, text.Color)
	assert.Equal(t, rect.X, text.X)
	assert.Equal(t, rect.Y, text.Y)

	assert.Empty(t, doc.Pages[0].Overlays, "the input is not modified")
}

func TestOverwrite_EntriesInOrderAndPageSelection(t *testing.T) {
	out, err := Overwrite(blank(612, 612), models.OverwriteParams{Entries: []models.OverwriteEntry{
		{X: 1, Y: 1, Text: "first", Size: 10, Color: "#000000"},
		{X: 1, Y: 1, Text: "second", Size: 10, Color: "#FF0000", Page: 2},
		{X: 1, Y: 1, Text: "third", Size: 10, Color: "#000000", Page: 1},
	}})
	require.NoError(t, err)

	first := out.Pages[0].Overlays
	require.Len(t, first, 4)
	assert.Equal(t, "first", first[1].Text)
	assert.Equal(t, "third", first[3].Text)
	require.Len(t, out.Pages[1].Overlays, 2)
	assert.Equal(t, "second", out.Pages[1].Overlays[1].Text)

	_, err = Overwrite(blank(612), models.OverwriteParams{Entries: []models.OverwriteEntry{
		{X: 1, Y: 1, Text: "x", Size: 10, Color: "#000000", Page: 3},
	}})
	assert.Equal(t, models.KindInvalidParameter, models.KindOf(err))
}

func TestPageNumbers(t *testing.T) {
	out, err := PageNumbers(blank(612, 300), models.PageNumberParams{Size: 12})
	require.NoError(t, err)

	for i, want := range []struct {
		text string
		x    float64
	}{{"1", 550}, {"2", 238}} {
		require.Len(t, out.Pages[i].Overlays, 1)
		o := out.Pages[i].Overlays[0]
		assert.Equal(t, want.text, o.Text)
		assert.Equal(t, want.x, o.X)
		assert.Equal(t, 20.0, o.Y)
	}
}

func TestOperationsKeepPageCount(t *testing.T) {
	doc := blank(100, 200, 300)
	ops := map[string]func(*models.Document) (*models.Document, error){
		"rotate": func(d *models.Document) (*models.Document, error) {
			return Rotate(d, models.RotateParams{Angle: 90})
		},
		"crop": func(d *models.Document) (*models.Document, error) {
			return Crop(d, models.CropParams{Box: models.Rect{W: 10, H: 10}})
		},
		"watermark": func(d *models.Document) (*models.Document, error) {
			return Watermark(d, models.DefaultWatermark())
		},
		"page numbers": func(d *models.Document) (*models.Document, error) {
			return PageNumbers(d, models.PageNumberParams{Size: 12})
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			out, err := op(doc)
			require.NoError(t, err)
			require.Equal(t, doc.PageCount(), out.PageCount())
			for i := range out.Pages {
				assert.Equal(t, doc.Pages[i].Content, out.Pages[i].Content)
			}
		})
	}
}

func TestWriteArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, [][]byte{[]byte("one"), []byte("two")}, "pdf"))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	for i, want := range []struct{ name, body string }{{"page-1.pdf", "one"}, {"page-2.pdf", "two"}} {
		assert.Equal(t, want.name, zr.File[i].Name)
		rc, err := zr.File[i].Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, want.body, string(body))
	}
}
