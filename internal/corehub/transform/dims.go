package transform

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// decodeDimensions reads just enough of raw to report its pixel
// dimensions, supporting every format the transform workers handle
// (PNG/JPEG/GIF from the standard library, WebP from golang.org/x/image).
func decodeDimensions(raw []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
