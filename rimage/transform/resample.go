package transform

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"go.viam.com/flatten/utils"
)

// ResampleOptions controls Resample.
type ResampleOptions struct {
	// Sequential disables row parallelism. The result is identical either way.
	Sequential bool
}

// toRGBA returns src as an *image.RGBA whose bounds start at the origin, converting if needed.
// An already suitable image is returned as is and only read from.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Resample produces the corrected image by sampling src at every map entry with bilinear
// interpolation. Entries outside [0, W-1]x[0, H-1] of the source, and NaN entries, are filled
// with border. A nil border means fully transparent black. The output is always newly allocated
// 8-bit RGBA, whatever the depth of src.
func Resample(src image.Image, m *CoordinateMap, border color.Color, opts ...func(o *ResampleOptions)) *image.RGBA {
	var opt ResampleOptions
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}

	in := toRGBA(src)
	fill := color.RGBA{}
	if border != nil {
		fill = color.RGBAModel.Convert(border).(color.RGBA)
	}
	dst := image.NewRGBA(m.Bounds())

	sampleRows := func(start, end int) {
		for v := start; v < end; v++ {
			for u := 0; u < m.Width; u++ {
				p := m.Points[v*m.Width+u]
				i := dst.PixOffset(u, v)
				px := dst.Pix[i : i+4 : i+4]
				c, ok := bilinear(in, p.X, p.Y)
				if !ok {
					c = fill
				}
				px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
			}
		}
	}
	if opt.Sequential {
		sampleRows(0, m.Height)
	} else {
		utils.ParallelForEachRow(m.Height, sampleRows)
	}
	return dst
}

// bilinear samples img at the fractional position (x, y). It reports false when the position
// is NaN or outside the inclusive pixel-center range of the image.
func bilinear(img *image.RGBA, x, y float64) (color.RGBA, bool) {
	maxX := float64(img.Rect.Dx() - 1)
	maxY := float64(img.Rect.Dy() - 1)
	if !(x >= 0 && x <= maxX && y >= 0 && y <= maxY) {
		return color.RGBA{}, false
	}

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if float64(x1) > maxX {
		x1 = x0
	}
	if float64(y1) > maxY {
		y1 = y0
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	p00 := img.Pix[img.PixOffset(x0, y0):]
	p10 := img.Pix[img.PixOffset(x1, y0):]
	p01 := img.Pix[img.PixOffset(x0, y1):]
	p11 := img.Pix[img.PixOffset(x1, y1):]

	var out [4]uint8
	for ch := 0; ch < 4; ch++ {
		top := float64(p00[ch])*(1-fx) + float64(p10[ch])*fx
		bottom := float64(p01[ch])*(1-fx) + float64(p11[ch])*fx
		out[ch] = clampToByte(top*(1-fy) + bottom*fy)
	}
	return color.RGBA{R: out[0], G: out[1], B: out[2], A: out[3]}, true
}

func clampToByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// UndistortImage generates the map for the source image's own size and resamples it, the
// one-shot form of GenerateMap followed by Resample.
func UndistortImage(
	src image.Image, in Intrinsics, dist KannalaBrandt, mode ProjectionMode, border color.Color,
) (*image.RGBA, error) {
	if src == nil {
		return nil, NewConfigError("image", "input image is nil")
	}
	m, err := GenerateMap(in, dist, mode, src.Bounds().Size())
	if err != nil {
		return nil, err
	}
	return Resample(src, m, border), nil
}
