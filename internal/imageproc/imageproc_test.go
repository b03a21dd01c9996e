package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResize(t *testing.T) {
	src := solid(1920, 1080, color.RGBA{B: 200, A: 255})

	out := Resize(src, 640)

	assert.Equal(t, image.Rect(0, 0, 640, 640), out.Bounds())
	assert.Equal(t, image.Rect(0, 0, 1920, 1080), src.Bounds())
	_, _, b, _ := out.At(320, 320).RGBA()
	assert.InDelta(t, 200, b>>8, 2)
}

func TestRescaleBox(t *testing.T) {
	box := []float64{100, 200, 300.5, 639}

	for _, tc := range []struct {
		name     string
		original image.Rectangle
	}{
		{"full hd", image.Rect(0, 0, 1920, 1080)},
		{"vga", image.Rect(0, 0, 640, 480)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := NewScale(tc.original, 640)
			got, err := RescaleBox(box, s)
			require.NoError(t, err)

			w, h := float64(tc.original.Dx()), float64(tc.original.Dy())
			want := models.BBox{
				int(math.Round(box[0] * w / 640)),
				int(math.Round(box[1] * h / 640)),
				int(math.Round(box[2] * w / 640)),
				int(math.Round(box[3] * h / 640)),
			}
			assert.Equal(t, want, got)
		})
	}

	got, err := RescaleBox([]float64{64, 64, 320, 320}, NewScale(image.Rect(0, 0, 1920, 1080), 640))
	require.NoError(t, err)
	assert.Equal(t, models.BBox{192, 108, 960, 540}, got)
}

func TestRescaleBoxMalformed(t *testing.T) {
	s := NewScale(image.Rect(0, 0, 640, 480), 640)

	_, err := RescaleBox([]float64{1, 2, 3}, s)
	require.ErrorContains(t, err, "4 coordinates")

	_, err = RescaleBox([]float64{1, 2, math.NaN(), 4}, s)
	require.ErrorContains(t, err, "non-finite")
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solid(32, 16, color.White), 80)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
}

func TestAnnotate(t *testing.T) {
	src := solid(200, 200, color.Black)
	classes := models.DefaultClassTable()

	theft := NewAnnotation(models.Detection{Class: models.ClassShoplifting, Confidence: 0.934, BBox: models.BBox{20, 40, 120, 160}}, classes)
	normal := NewAnnotation(models.Detection{Class: models.ClassNormal, Confidence: 0.61, BBox: models.BBox{150, 150, 190, 190}}, classes)
	assert.Equal(t, "THEFT 0.93", theft.Label)
	assert.True(t, theft.Alert)
	assert.Equal(t, "NORMAL 0.61", normal.Label)
	assert.False(t, normal.Alert)

	out := Annotate(src, []Annotation{theft, normal})

	assert.Equal(t, src.Bounds(), out.Bounds())
	r, g, _, _ := out.At(70, 40).RGBA()
	assert.Greater(t, r>>8, uint32(128), "top edge of theft box is red")
	assert.Less(t, g>>8, uint32(64))
	r, g, _, _ = out.At(170, 190).RGBA()
	assert.Greater(t, g>>8, uint32(128), "bottom edge of normal box is green")
	assert.Less(t, r>>8, uint32(64))

	// source frame stays untouched
	r, g, b, _ := src.At(70, 40).RGBA()
	assert.Zero(t, r+g+b)
}
