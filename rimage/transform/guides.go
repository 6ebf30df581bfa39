package transform

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// GuideFractions are the horizontal positions, as fractions of the width, of the vertical
// calibration guide lines.
var GuideFractions = []float64{0.25, 0.5, 0.75}

// DrawGuides returns a copy of img with vertical guide lines drawn at GuideFractions of its
// width. Straight vertical structures in the scene should line up with them once the lens
// parameters are right. img is not modified.
func DrawGuides(img image.Image, c color.Color, thickness float64) *image.RGBA {
	dc := gg.NewContextForImage(img)
	w, h := dc.Width(), dc.Height()
	dc.SetColor(c)
	dc.SetLineWidth(thickness)
	for _, frac := range GuideFractions {
		x := float64(int(float64(w) * frac))
		dc.DrawLine(x, 0, x, float64(h))
		dc.Stroke()
	}
	return dc.Image().(*image.RGBA)
}
