package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// downscale shrinks src so its longest edge is at most maxEdge pixels,
// preserving aspect ratio. Images already within bounds are returned as-is.
// Remote OCR services reject or time out on very large uploads, and glyph
// recognition gains nothing beyond roughly 300 DPI.
func downscale(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge {
		return src
	}

	scale := float64(maxEdge) / float64(longest)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
