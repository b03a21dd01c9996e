package imageproc

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

var (
	AlertColor  = color.RGBA{R: 255, A: 255}
	NormalColor = color.RGBA{G: 255, A: 255}
)

const (
	boxLineWidth  = 2
	labelFontSize = 16
	labelOffset   = 10
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Annotation is one box to draw on a frame
type Annotation struct {
	Box   models.BBox
	Label string
	Alert bool
}

// NewAnnotation builds the overlay for a logged detection
func NewAnnotation(det models.Detection, classes models.ClassTable) Annotation {
	return Annotation{
		Box:   det.BBox,
		Label: fmt.Sprintf("%s %.2f", classes.DisplayName(det.Class), det.Confidence),
		Alert: classes.IsAlert(det.Class),
	}
}

// Annotate draws boxes and labels on a copy of img
func Annotate(img image.Image, annotations []Annotation) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: labelFontSize}))
	dc.SetLineWidth(boxLineWidth)

	for _, a := range annotations {
		c := NormalColor
		if a.Alert {
			c = AlertColor
		}
		dc.SetColor(c)

		r := a.Box.Rect()
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
		dc.DrawString(a.Label, float64(r.Min.X), float64(r.Min.Y-labelOffset))
	}
	return dc.Image()
}
