// Package thumbnail renders small preview images for the latest-image
// endpoint: a center-cropped, resized copy of a resource's source bytes,
// with a corner badge identifying its kind. Built on the same
// fogleman/gg + golang/freetype combination the rest of the corpus uses
// for raster composition and label text.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
)

const defaultSize = 256

// badgeColors maps a registry.Kind string to the corner-badge fill color.
var badgeColors = map[string]color.NRGBA{
	"image":    {R: 0x34, G: 0x98, B: 0xdb, A: 0xff},
	"video":    {R: 0xe6, G: 0x7e, B: 0x22, A: 0xff},
	"object3d": {R: 0x9b, G: 0x59, B: 0xb6, A: 0xff},
}

// Renderer generates kind-badged thumbnails, optionally labeling the badge
// with a letter when a TrueType font was loaded. Safe for concurrent use.
type Renderer struct {
	face font.Face // nil disables the label, leaving a plain color chip
}

// NewRenderer loads fontPath (a .ttf file) for the corner-badge label. An
// empty fontPath, or one that fails to load, degrades to unlabeled color
// chips rather than failing thumbnail generation.
func NewRenderer(fontPath string) *Renderer {
	if fontPath == "" {
		return &Renderer{}
	}
	face, err := loadFontFace(fontPath, 14)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{face: face}
}

// Generate center-crops raw to a square, scales it to size (defaulting to
// 256px), and stamps a small corner badge colored by kind. Returns PNG
// bytes. kind is typically a registry.Kind value ("image", "video",
// "object3d"); unrecognized kinds get a neutral gray badge instead of
// failing.
func (r *Renderer) Generate(raw []byte, kind string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultSize
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	cropped := centerCropSquare(img)
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), cropped, cropped.Bounds(), draw.Over, nil)

	dc := gg.NewContext(size, size)
	dc.DrawImage(scaled, 0, 0)
	r.drawBadge(dc, kind, size)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode thumbnail png: %w", err)
	}
	return buf.Bytes(), nil
}

func centerCropSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h < w {
		side = h
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2

	rect := image.Rect(0, 0, side, side)
	cropped := image.NewRGBA(rect)
	draw.Draw(cropped, rect, img, image.Point{X: x0, Y: y0}, draw.Src)
	return cropped
}

func (r *Renderer) drawBadge(dc *gg.Context, kind string, size int) {
	fill, ok := badgeColors[kind]
	if !ok {
		fill = color.NRGBA{R: 0x7f, G: 0x8c, B: 0x8d, A: 0xff}
	}
	radius := float64(size) * 0.08
	cx, cy := radius+4, radius+4
	dc.SetColor(fill)
	dc.DrawCircle(cx, cy, radius)
	dc.Fill()

	if r.face == nil {
		return
	}
	dc.SetFontFace(r.face)
	dc.SetColor(color.White)
	label := badgeLabel(kind)
	tw, th := dc.MeasureString(label)
	dc.DrawString(label, cx-tw/2, cy+th/2-2)
}

func badgeLabel(kind string) string {
	switch kind {
	case "image":
		return "I"
	case "video":
		return "V"
	case "object3d":
		return "3D"
	default:
		return "?"
	}
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ttf: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
