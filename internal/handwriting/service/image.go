package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// MaxImageSide caps the long side of stored frames.
const MaxImageSide = 2048

// Frames larger than this are refused before any pixel is decoded.
const (
	maxDecodeSide   = 16384
	maxDecodePixels = 40_000_000
)

var ErrBadImage = errors.New("uploaded file is not a readable PNG or JPEG image")

// NormalizeImage decodes a PNG or JPEG frame and re-encodes it as PNG,
// scaling it down so neither side exceeds maxSide.
func NormalizeImage(data []byte, maxSide int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if cfg.Width > maxDecodeSide || cfg.Height > maxDecodeSide || cfg.Width*cfg.Height > maxDecodePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds the pixel limit", ErrBadImage, cfg.Width, cfg.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: got %s", ErrBadImage, format)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrBadImage)
	}

	out := src
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		nw, nh := maxSide, maxSide
		if w >= h {
			nh = max(1, h*maxSide/w)
		} else {
			nw = max(1, w*maxSide/h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		out = dst
	} else if format == "png" {
		return data, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
