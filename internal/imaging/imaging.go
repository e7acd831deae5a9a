package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultMaxEdge is the longest edge sent to vision models
const DefaultMaxEdge = 1024

const jpegQuality = 90

// ErrEmptyCrop is returned when a crop rectangle does not overlap the image
var ErrEmptyCrop = errors.New("crop rectangle is empty")

// Dimensions reads the width and height of an encoded image without decoding pixels
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Downscale shrinks an image so its longer edge equals maxEdge, preserving
// aspect ratio. Images already within the limit are returned unchanged.
func Downscale(data []byte, maxEdge int) ([]byte, error) {
	width, height, err := Dimensions(data)
	if err != nil {
		return nil, err
	}
	if max(width, height) <= maxEdge {
		return data, nil
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	w, h := ScaledSize(width, height, maxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return encode(dst, format)
}

// ScaledSize returns the size of a width x height image fitted inside a
// maxEdge square.
func ScaledSize(width, height, maxEdge int) (int, int) {
	if width >= height {
		h := int(math.Round(float64(height) * float64(maxEdge) / float64(width)))
		return maxEdge, max(h, 1)
	}
	w := int(math.Round(float64(width) * float64(maxEdge) / float64(height)))
	return max(w, 1), maxEdge
}

// Crop cuts rect out of an image and returns it as JPEG. The rectangle is
// clipped to the image bounds.
func Crop(data []byte, rect image.Rectangle) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	rect = rect.Add(src.Bounds().Min).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	return encode(dst, "jpeg")
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
