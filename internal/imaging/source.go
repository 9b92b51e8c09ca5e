// Package imaging loads page bitmaps and implements the pixel-space
// operations the pipeline needs: quarter-turn rotation and downscaling
// before remote OCR.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/veridoc/docintake-worker/internal/pipeline"
)

const jpegQuality = 90

// FileImageSource reads pages from the local filesystem. Rotation and
// downscaling are pure: the input PageImage is never modified.
type FileImageSource struct {
	maxEdge int
}

// NewFileImageSource builds a source that downscales loaded pages so their
// longest edge does not exceed maxEdge pixels. maxEdge <= 0 disables
// downscaling.
func NewFileImageSource(maxEdge int) *FileImageSource {
	return &FileImageSource{maxEdge: maxEdge}
}

// Load reads and decodes the page behind ref, downscaling oversized pages.
func (s *FileImageSource) Load(ctx context.Context, ref string) (pipeline.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.PageImage{}, err
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return pipeline.PageImage{}, fmt.Errorf("read page %s: %w", ref, err)
	}
	return FromBytes(ref, data, s.maxEdge)
}

// FromBytes decodes an already-read page, normalizing the format name and
// downscaling when the longest edge exceeds maxEdge.
func FromBytes(ref string, data []byte, maxEdge int) (pipeline.PageImage, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return pipeline.PageImage{}, fmt.Errorf("decode page %s: %w", ref, err)
	}
	if format != "jpeg" && format != "png" {
		return pipeline.PageImage{}, fmt.Errorf("page %s: unsupported format %q", ref, format)
	}

	if maxEdge > 0 {
		scaled := downscale(src, maxEdge)
		if scaled != src {
			data, err = encode(scaled, format)
			if err != nil {
				return pipeline.PageImage{}, fmt.Errorf("re-encode page %s: %w", ref, err)
			}
		}
	}

	return pipeline.PageImage{Ref: ref, Data: data, Format: format}, nil
}

// Rotate produces a new PageImage at the requested clockwise angle. The
// source image is always the canonical (angle 0) page, so the result's
// Rotation is absolute.
func (s *FileImageSource) Rotate(img pipeline.PageImage, angle int) (pipeline.PageImage, error) {
	switch angle {
	case 0:
		return img, nil
	case 90, 180, 270:
	default:
		return pipeline.PageImage{}, fmt.Errorf("rotate %s: unsupported angle %d", img.Ref, angle)
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return pipeline.PageImage{}, fmt.Errorf("decode %s for rotation: %w", img.Ref, err)
	}

	data, err := encode(rotatePixels(src, angle), format)
	if err != nil {
		return pipeline.PageImage{}, fmt.Errorf("encode rotated %s: %w", img.Ref, err)
	}

	return pipeline.PageImage{
		Ref:      img.Ref,
		Data:     data,
		Format:   format,
		Rotation: angle,
	}, nil
}

// rotatePixels maps every source pixel to its clockwise quarter-turn
// position.
func rotatePixels(src image.Image, angle int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if angle == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.At(b.Min.X+x, b.Min.Y+y)
			switch angle {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return buf.Bytes(), nil
}
