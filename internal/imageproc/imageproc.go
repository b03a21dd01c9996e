// Package imageproc holds the pixel-level steps of the detection loop:
// resizing frames to the model input, mapping boxes back to the frame and
// drawing annotations.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/nfnt/resize"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// Resize scales img to a size x size square. The source image is not modified.
func Resize(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), img, resize.Bilinear)
}

// Scale holds independent x/y factors from model input space to frame pixels
type Scale struct {
	X, Y float64
}

// NewScale returns the factors original/normalized for both axes
func NewScale(original image.Rectangle, normalized int) Scale {
	return Scale{
		X: float64(original.Dx()) / float64(normalized),
		Y: float64(original.Dy()) / float64(normalized),
	}
}

// RescaleBox maps a [x1, y1, x2, y2] box from model input space to frame pixels,
// rounding each corner to the nearest pixel.
func RescaleBox(box []float64, s Scale) (models.BBox, error) {
	if len(box) != 4 {
		return models.BBox{}, fmt.Errorf("box must have 4 coordinates, got %d", len(box))
	}
	for _, c := range box {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return models.BBox{}, fmt.Errorf("box has non-finite coordinate %v", c)
		}
	}
	return models.BBox{
		int(math.Round(box[0] * s.X)),
		int(math.Round(box[1] * s.Y)),
		int(math.Round(box[2] * s.X)),
		int(math.Round(box[3] * s.Y)),
	}, nil
}

// EncodeJPEG encodes img with the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
