package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrInvalidSpec = errors.New("invalid crop spec")
	ErrInvalidCrop = errors.New("invalid crop rectangle")
	ErrDecode      = errors.New("decode image")
)

// CropSpec is the fixed output contract of an image field.
type CropSpec struct {
	AspectRatio float64 `yaml:"aspect_ratio" json:"aspect_ratio"`
	Width       int     `yaml:"width" json:"width"`
	Height      int     `yaml:"height" json:"height"`
}

func (s CropSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: output %dx%d", ErrInvalidSpec, s.Width, s.Height)
	}
	if s.AspectRatio < 0 || math.IsNaN(s.AspectRatio) || math.IsInf(s.AspectRatio, 0) {
		return fmt.Errorf("%w: aspect ratio %v", ErrInvalidSpec, s.AspectRatio)
	}
	return nil
}

// Aspect returns the configured aspect ratio, falling back to the output
// dimensions when none was given.
func (s CropSpec) Aspect() float64 {
	if s.AspectRatio > 0 {
		return s.AspectRatio
	}
	return float64(s.Width) / float64(s.Height)
}

// Rect is a crop rectangle in source-pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// DefaultRect returns the largest rectangle of the given aspect ratio centred
// in bounds.
func DefaultRect(bounds image.Rectangle, aspect float64) Rect {
	w, h := bounds.Dx(), bounds.Dy()
	if aspect <= 0 || w == 0 || h == 0 {
		return Rect{X: bounds.Min.X, Y: bounds.Min.Y, Width: w, Height: h}
	}
	cw, ch := w, int(math.Round(float64(w)/aspect))
	if ch > h {
		ch = h
		cw = int(math.Round(float64(h) * aspect))
	}
	return Rect{
		X:      bounds.Min.X + (w-cw)/2,
		Y:      bounds.Min.Y + (h-ch)/2,
		Width:  cw,
		Height: ch,
	}
}

// ConstrainRect shrinks r around its centre until it matches aspect.
func ConstrainRect(r Rect, aspect float64) Rect {
	if aspect <= 0 || r.Width <= 0 || r.Height <= 0 {
		return r
	}
	current := float64(r.Width) / float64(r.Height)
	if math.Abs(current-aspect) < 1e-3 {
		return r
	}
	out := r
	if current > aspect {
		out.Width = int(math.Round(float64(r.Height) * aspect))
		out.X = r.X + (r.Width-out.Width)/2
	} else {
		out.Height = int(math.Round(float64(r.Width) / aspect))
		out.Y = r.Y + (r.Height-out.Height)/2
	}
	if out.Width < 1 {
		out.Width = 1
	}
	if out.Height < 1 {
		out.Height = 1
	}
	return out
}

// DefaultMaxPixels bounds the bitmap a source image may decode to.
const DefaultMaxPixels = 40_000_000

// Decode reads an encoded image of any registered format, refusing images
// larger than DefaultMaxPixels.
func Decode(raw []byte) (image.Image, error) {
	return DecodeLimited(raw, DefaultMaxPixels)
}

// DecodeLimited reads the header first and only decodes images of at most
// maxPixels pixels. A maxPixels of zero disables the check.
func DecodeLimited(raw []byte, maxPixels int) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// Render draws the crop rectangle of src onto a white canvas of exactly
// spec.Width x spec.Height. Parts of the rectangle outside src stay white and
// transparent source pixels are composited over white, so the result is
// always opaque.
func Render(src image.Image, r Rect, spec CropSpec) (*image.RGBA, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidCrop, r.Width, r.Height)
	}

	crop := r.image()
	visible := crop.Intersect(src.Bounds())
	if visible.Empty() {
		return nil, fmt.Errorf("%w: %v outside source %v", ErrInvalidCrop, crop, src.Bounds())
	}

	dc := gg.NewContext(spec.Width, spec.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	canvas := dc.Image().(*image.RGBA)

	sx := float64(spec.Width) / float64(crop.Dx())
	sy := float64(spec.Height) / float64(crop.Dy())
	dst := image.Rect(
		int(math.Round(float64(visible.Min.X-crop.Min.X)*sx)),
		int(math.Round(float64(visible.Min.Y-crop.Min.Y)*sy)),
		int(math.Round(float64(visible.Max.X-crop.Min.X)*sx)),
		int(math.Round(float64(visible.Max.Y-crop.Min.Y)*sy)),
	).Intersect(canvas.Bounds())
	if dst.Empty() {
		return canvas, nil
	}

	draw.CatmullRom.Scale(canvas, dst, src, visible, draw.Over, nil)
	return canvas, nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := gg.NewContextForRGBA(img).EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// CropToSpec decodes raw, crops it to r (constrained to the spec aspect
// ratio; the centred default when r is nil) and returns the encoded PNG.
func CropToSpec(raw []byte, r *Rect, spec CropSpec) ([]byte, error) {
	return cropToSpec(raw, r, spec, DefaultMaxPixels)
}

func cropToSpec(raw []byte, r *Rect, spec CropSpec, maxPixels int) ([]byte, error) {
	src, err := DecodeLimited(raw, maxPixels)
	if err != nil {
		return nil, err
	}
	var rect Rect
	if r == nil {
		rect = DefaultRect(src.Bounds(), spec.Aspect())
	} else {
		rect = ConstrainRect(*r, spec.Aspect())
	}
	canvas, err := Render(src, rect, spec)
	if err != nil {
		return nil, err
	}
	return EncodePNG(canvas)
}
