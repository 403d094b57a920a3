package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxCoord bounds every coordinate and length. It is the largest page
// dimension a PDF consumer is required to support.
const maxCoord = 14400

// Params is the validated parameter set of one operation.
type Params interface {
	Operation() Operation
	Validate() error
}

// NoParams is used by operations that take no parameters.
type NoParams struct{ Op Operation }

func (p NoParams) Operation() Operation { return p.Op }
func (p NoParams) Validate() error      { return nil }

type RotateParams struct {
	Angle int `json:"angle"`
}

func (RotateParams) Operation() Operation { return OpRotate }

func (p RotateParams) Validate() error {
	if p.Angle%90 != 0 {
		return Errorf(KindInvalidParameter, string(OpRotate), "angle %d is not a multiple of 90", p.Angle)
	}
	return nil
}

type CropParams struct {
	Box Rect `json:"box"`
}

func (CropParams) Operation() Operation { return OpCrop }

func (p CropParams) Validate() error {
	for name, v := range map[string]float64{"x": p.Box.X, "y": p.Box.Y, "width": p.Box.W, "height": p.Box.H} {
		if err := checkCoord(OpCrop, name, v); err != nil {
			return err
		}
	}
	return nil
}

type WatermarkParams struct {
	Text    string  `json:"text"`
	Color   Color   `json:"color"`
	Opacity float64 `json:"opacity"`
	Size    float64 `json:"size"`
}

// DefaultWatermark matches the stamp the service has always produced.
func DefaultWatermark() WatermarkParams {
	return WatermarkParams{Text: "SAMPLE", Color: Color{0.7, 0.7, 0.7}, Opacity: 0.3, Size: 50}
}

func (WatermarkParams) Operation() Operation { return OpWatermark }

func (p WatermarkParams) Validate() error {
	if p.Text == "" {
		return Errorf(KindInvalidParameter, string(OpWatermark), "text must not be empty")
	}
	if !finite(p.Opacity) || p.Opacity <= 0 || p.Opacity > 1 {
		return Errorf(KindInvalidParameter, string(OpWatermark), "opacity %v must be in (0,1]", p.Opacity)
	}
	if !finite(p.Size) || p.Size <= 0 || p.Size > maxCoord {
		return Errorf(KindInvalidParameter, string(OpWatermark), "size %v out of range", p.Size)
	}
	return nil
}

// OverwriteEntry is one redact-and-replace instruction. Y is measured from
// the top of the page. Page is 1-based; zero means the first page.
type OverwriteEntry struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Text  string  `json:"text"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
	Page  int     `json:"page,omitempty"`
}

type OverwriteParams struct {
	Entries []OverwriteEntry `json:"texts"`
}

func (OverwriteParams) Operation() Operation { return OpOverwrite }

func (p OverwriteParams) Validate() error {
	if len(p.Entries) == 0 {
		return Errorf(KindInvalidParameter, string(OpOverwrite), "at least one entry is required")
	}
	for i, e := range p.Entries {
		field := func(name string) string { return fmt.Sprintf("texts[%d].%s", i, name) }
		if err := checkCoord(OpOverwrite, field("x"), e.X); err != nil {
			return err
		}
		if err := checkCoord(OpOverwrite, field("y"), e.Y); err != nil {
			return err
		}
		if !finite(e.Size) || e.Size <= 0 || e.Size > maxCoord {
			return Errorf(KindInvalidParameter, string(OpOverwrite), "%s %v out of range", field("size"), e.Size)
		}
		if _, err := ParseColor(e.Color); err != nil {
			return Errorf(KindInvalidParameter, string(OpOverwrite), "%s: %v", field("color"), err)
		}
		if e.Page < 0 {
			return Errorf(KindInvalidParameter, string(OpOverwrite), "%s %d must be positive", field("page"), e.Page)
		}
	}
	return nil
}

type PageNumberParams struct {
	Size float64 `json:"size"`
}

func (PageNumberParams) Operation() Operation { return OpPageNumbers }

func (p PageNumberParams) Validate() error {
	if !finite(p.Size) || p.Size <= 0 || p.Size > maxCoord {
		return Errorf(KindInvalidParameter, string(OpPageNumbers), "size %v out of range", p.Size)
	}
	return nil
}

// Permissions is the permission bitset embedded in an encrypted document.
type Permissions struct {
	Printing      bool `json:"printing"`
	Modifying     bool `json:"modifying"`
	Copying       bool `json:"copying"`
	Annotating    bool `json:"annotating"`
	FillingForms  bool `json:"fillingForms"`
	Accessibility bool `json:"accessibility"`
	Assembly      bool `json:"assembly"`
}

// DefaultPermissions denies everything except printing and accessibility.
func DefaultPermissions() Permissions {
	return Permissions{Printing: true, Accessibility: true}
}

type ProtectParams struct {
	UserPassword  string      `json:"password"`
	OwnerPassword string      `json:"ownerPassword"`
	Permissions   Permissions `json:"permissions"`
}

func (ProtectParams) Operation() Operation { return OpProtect }

func (p ProtectParams) Validate() error {
	if p.UserPassword == "" {
		return Errorf(KindInvalidParameter, string(OpProtect), "password required")
	}
	return nil
}

type UnlockParams struct {
	Password string `json:"password"`
}

func (UnlockParams) Operation() Operation { return OpUnlock }
func (UnlockParams) Validate() error      { return nil }

// ConvertParams carries the optional declared source format of a remote
// conversion. When set it must agree with the uploaded file's extension.
type ConvertParams struct {
	Op           Operation `json:"-"`
	SourceFormat string    `json:"sourceFormat,omitempty"`
}

func (p ConvertParams) Operation() Operation { return p.Op }

func (p ConvertParams) Validate() error {
	c, ok := p.Op.Conversion()
	if !ok {
		return Errorf(KindInvalidParameter, string(p.Op), "not a conversion operation")
	}
	if p.SourceFormat != "" && !c.Accepts(p.SourceFormat) {
		return Errorf(KindUnsupportedFormat, string(p.Op), "source format %q is not accepted", p.SourceFormat)
	}
	return nil
}

// ParseParams turns the raw string fields of a request into the typed
// parameter set of op, rejecting anything malformed before any I/O happens.
func ParseParams(op Operation, values map[string]string) (Params, error) {
	if !op.Known() {
		return nil, Errorf(KindUnsupportedFormat, string(op), "unknown operation")
	}
	var (
		p   Params
		err error
	)
	switch op {
	case OpRotate:
		p, err = parseRotate(values)
	case OpCrop:
		p, err = parseCrop(values)
	case OpWatermark:
		p, err = parseWatermark(values)
	case OpOverwrite:
		p, err = parseOverwrite(values)
	case OpPageNumbers:
		p, err = parsePageNumbers(values)
	case OpProtect:
		p, err = parseProtect(values)
	case OpUnlock:
		p = UnlockParams{Password: values["password"]}
	default:
		if op.Remote() {
			p = ConvertParams{Op: op, SourceFormat: strings.ToLower(strings.TrimPrefix(values["source_format"], "."))}
		} else {
			p = NoParams{Op: op}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseRotate(values map[string]string) (Params, error) {
	p := RotateParams{Angle: 90}
	if s, ok := values["angle"]; ok && s != "" {
		f, err := parseFloat(OpRotate, "angle", s)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, Errorf(KindInvalidParameter, string(OpRotate), "angle %v is not a multiple of 90", f)
		}
		p.Angle = int(f)
	}
	return p, nil
}

func parseCrop(values map[string]string) (Params, error) {
	var out [4]float64
	for i, key := range []string{"x", "y", "width", "height"} {
		f, err := parseFloat(OpCrop, key, values[key])
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return CropParams{Box: Rect{X: out[0], Y: out[1], W: out[2], H: out[3]}}, nil
}

func parseWatermark(values map[string]string) (Params, error) {
	p := DefaultWatermark()
	if s := values["text"]; s != "" {
		p.Text = s
	}
	if s := values["color"]; s != "" {
		c, err := ParseColor(s)
		if err != nil {
			return nil, Errorf(KindInvalidParameter, string(OpWatermark), "color: %v", err)
		}
		p.Color = c
	}
	for key, dst := range map[string]*float64{"opacity": &p.Opacity, "size": &p.Size} {
		if s := values[key]; s != "" {
			f, err := parseFloat(OpWatermark, key, s)
			if err != nil {
				return nil, err
			}
			*dst = f
		}
	}
	return p, nil
}

func parseOverwrite(values map[string]string) (Params, error) {
	raw := values["texts"]
	if raw == "" {
		return nil, Errorf(KindInvalidParameter, string(OpOverwrite), "texts is required")
	}
	var entries []OverwriteEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, Errorf(KindInvalidParameter, string(OpOverwrite), "texts is not a valid entry list: %v", err)
	}
	return OverwriteParams{Entries: entries}, nil
}

func parsePageNumbers(values map[string]string) (Params, error) {
	p := PageNumberParams{Size: 12}
	if s := values["size"]; s != "" {
		f, err := parseFloat(OpPageNumbers, "size", s)
		if err != nil {
			return nil, err
		}
		p.Size = f
	}
	return p, nil
}

func parseProtect(values map[string]string) (Params, error) {
	p := ProtectParams{
		UserPassword:  values["password"],
		OwnerPassword: values["owner_password"],
		Permissions:   DefaultPermissions(),
	}
	if p.OwnerPassword == "" {
		p.OwnerPassword = p.UserPassword
	}
	if s, ok := values["permissions"]; ok {
		perms, err := ParsePermissions(s)
		if err != nil {
			return nil, err
		}
		p.Permissions = perms
	}
	return p, nil
}

// ParsePermissions reads a comma separated list of granted permissions.
// An empty list grants nothing.
func ParsePermissions(s string) (Permissions, error) {
	var p Permissions
	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "printing", "print":
			p.Printing = true
		case "modifying", "modify":
			p.Modifying = true
		case "copying", "copy":
			p.Copying = true
		case "annotating", "annotate":
			p.Annotating = true
		case "fillingforms", "formfilling", "fill":
			p.FillingForms = true
		case "accessibility":
			p.Accessibility = true
		case "assembly", "assemble":
			p.Assembly = true
		default:
			return Permissions{}, Errorf(KindInvalidParameter, string(OpProtect), "unknown permission %q", name)
		}
	}
	return p, nil
}

// ParseColor reads a #RRGGBB hex color.
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("color %q is not #RRGGBB", s)
	}
	var c [3]float64
	for i := range c {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return Color{}, fmt.Errorf("color %q is not #RRGGBB", s)
		}
		c[i] = float64(v) / 255
	}
	return Color{R: c[0], G: c[1], B: c[2]}, nil
}

func parseFloat(op Operation, key, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, Errorf(KindInvalidParameter, string(op), "%s %q is not a number", key, s)
	}
	return f, checkCoord(op, key, f)
}

func checkCoord(op Operation, key string, v float64) error {
	if !finite(v) {
		return Errorf(KindInvalidParameter, string(op), "%s must be finite", key)
	}
	if math.Abs(v) > maxCoord {
		return Errorf(KindInvalidParameter, string(op), "%s %v exceeds %d", key, v, maxCoord)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
