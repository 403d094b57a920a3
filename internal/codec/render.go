package codec

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Resource names added to every page that carries overlays.
const (
	overlayFont    = "DTHelv"
	overlayGSState = "DTGS"
)

// overlayStream is the rendered form of a page's overlays: the content
// stream and the opacity of every graphics state it references.
type overlayStream struct {
	content []byte
	gstates map[string]float64
}

// renderOverlays draws overlays in order, so later ones occlude earlier ones.
// Each overlay runs in its own q/Q block.
func renderOverlays(overlays []models.Overlay) (overlayStream, error) {
	out := overlayStream{gstates: map[string]float64{}}
	byOpacity := map[float64]string{}
	var buf bytes.Buffer

	for i, o := range overlays {
		buf.WriteString("q\n")
		if o.Opacity > 0 && o.Opacity < 1 {
			name, ok := byOpacity[o.Opacity]
			if !ok {
				name = fmt.Sprintf("%s%d", overlayGSState, len(byOpacity))
				byOpacity[o.Opacity] = name
				out.gstates[name] = o.Opacity
			}
			fmt.Fprintf(&buf, "/%s gs\n", name)
		}
		fmt.Fprintf(&buf, "%s %s %s rg\n", num(o.Color.R), num(o.Color.G), num(o.Color.B))

		switch o.Kind {
		case models.OverlayRect:
			fmt.Fprintf(&buf, "%s %s %s %s re f\n", num(o.X), num(o.Y), num(o.W), num(o.H))
		case models.OverlayText:
			text, err := pdfString(o.Text)
			if err != nil {
				return overlayStream{}, fmt.Errorf("overlay %d: %w", i, err)
			}
			rad := o.Angle * math.Pi / 180
			cos, sin := math.Cos(rad), math.Sin(rad)
			fmt.Fprintf(&buf, "BT\n/%s %s Tf\n%s %s %s %s %s %s Tm\n%s Tj\nET\n",
				overlayFont, num(o.Size),
				num(cos), num(sin), num(-sin), num(cos), num(o.X), num(o.Y),
				text)
		default:
			return overlayStream{}, fmt.Errorf("overlay %d: unknown kind %d", i, o.Kind)
		}
		buf.WriteString("Q\n")
	}
	out.content = buf.Bytes()
	return out, nil
}

// gstateNames returns the graphics state names in a stable order.
func (s overlayStream) gstateNames() []string {
	names := make([]string, 0, len(s.gstates))
	for n := range s.gstates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// pdfString encodes s as a WinAnsi literal string. Runes outside the code
// page are replaced.
func pdfString(s string) (string, error) {
	enc, err := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return "", fmt.Errorf("failed to encode text: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, b := range enc {
		switch {
		case b == '(' || b == ')' || b == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case b < 0x20 || b > 0x7e:
			fmt.Fprintf(&buf, "\\%03o", b)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(')')
	return buf.String(), nil
}

// num formats a number the way content streams expect: rounded to four
// decimals, no exponent, no trailing zeros.
func num(f float64) string {
	f = math.Round(f*1e4) / 1e4
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
