package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func sourcePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestGenerateProducesSquarePNGOfRequestedSize(t *testing.T) {
	r := NewRenderer("")
	out, err := r.Generate(sourcePNG(t, 640, 480), "image", 128)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 128 || b.Dy() != 128 {
		t.Fatalf("got %dx%d, want 128x128", b.Dx(), b.Dy())
	}
}

func TestGenerateDefaultsSizeWhenZero(t *testing.T) {
	r := NewRenderer("")
	out, err := r.Generate(sourcePNG(t, 300, 300), "video", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.Bounds().Dx() != defaultSize {
		t.Fatalf("got width %d, want default %d", decoded.Bounds().Dx(), defaultSize)
	}
}

func TestGenerateRejectsUndecodableInput(t *testing.T) {
	r := NewRenderer("")
	if _, err := r.Generate([]byte("not an image"), "image", 64); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRendererDegradesGracefullyWithoutFont(t *testing.T) {
	r := NewRenderer("/nonexistent/font.ttf")
	if r.face != nil {
		t.Fatal("expected nil face when font file is missing")
	}
}
