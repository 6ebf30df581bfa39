package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/flatten/utils"
)

// CoordinateMap holds, for every output pixel, the fractional source-image position to sample.
// Points is row-major with Width*Height entries. Entries may be NaN, which marks an output
// pixel with no source sample.
type CoordinateMap struct {
	Width  int
	Height int
	Points []r2.Point
}

// NewCoordinateMap allocates a map for an output image of the given size.
func NewCoordinateMap(width, height int) *CoordinateMap {
	return &CoordinateMap{
		Width:  width,
		Height: height,
		Points: make([]r2.Point, width*height),
	}
}

// Bounds returns the output image rectangle the map covers.
func (m *CoordinateMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At returns the source position for output pixel (u, v).
func (m *CoordinateMap) At(u, v int) r2.Point {
	return m.Points[v*m.Width+u]
}

// Equal reports whether both maps have the same size and bit-identical entries.
func (m *CoordinateMap) Equal(other *CoordinateMap) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Width != other.Width || m.Height != other.Height || len(m.Points) != len(other.Points) {
		return false
	}
	for i, p := range m.Points {
		q := other.Points[i]
		if math.Float64bits(p.X) != math.Float64bits(q.X) || math.Float64bits(p.Y) != math.Float64bits(q.Y) {
			return false
		}
	}
	return true
}

// MapOptions controls map generation.
type MapOptions struct {
	// Angle selects theta = atan(r) (default) or theta = r.
	Angle AngleModel
	// Sequential disables row parallelism. The result is identical either way.
	Sequential bool
}

// PixelMapFunc maps an output pixel position to a source pixel position.
type PixelMapFunc func(u, v float64) (float64, float64)

// DistortionMap returns the function that takes an output pixel (u,v) of the out camera to the
// distorted input pixel of the in camera according to the given distortion.
func DistortionMap(in, out Intrinsics, distort func(x, y float64) (float64, float64)) PixelMapFunc {
	return func(u, v float64) (float64, float64) {
		x, y := out.Normalize(u, v)
		x, y = distort(x, y)
		return in.Denormalize(x, y)
	}
}

// FillMap evaluates fn at every pixel of a width x height grid.
func FillMap(width, height int, fn PixelMapFunc, sequential bool) *CoordinateMap {
	m := NewCoordinateMap(width, height)
	fillRows := func(start, end int) {
		for v := start; v < end; v++ {
			row := m.Points[v*width : (v+1)*width]
			for u := range row {
				x, y := fn(float64(u), float64(v))
				row[u] = r2.Point{X: x, Y: y}
			}
		}
	}
	if sequential {
		fillRows(0, height)
	} else {
		utils.ParallelForEachRow(height, fillRows)
	}
	return m
}

func checkSize(size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return NewConfigError("output_size", "must be positive, got %dx%d", size.X, size.Y)
	}
	return nil
}

// GenerateMap builds the map from every pixel of an output image of the given size to the
// position in the fisheye source image that it should be sampled from. The result depends
// only on the arguments; identical inputs give bit-identical maps.
func GenerateMap(
	in Intrinsics, dist KannalaBrandt, mode ProjectionMode, size image.Point, opts ...func(o *MapOptions),
) (*CoordinateMap, error) {
	var opt MapOptions
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}
	if err := in.CheckValid(); err != nil {
		return nil, err
	}
	if err := dist.CheckValid(); err != nil {
		return nil, err
	}
	out, err := mode.OutputIntrinsics(in)
	if err != nil {
		return nil, err
	}
	if err := checkSize(size); err != nil {
		return nil, err
	}

	angle := opt.Angle
	distort := func(x, y float64) (float64, float64) {
		return dist.TransformAngle(x, y, angle)
	}
	return FillMap(size.X, size.Y, DistortionMap(in, out, distort), opt.Sequential), nil
}

// UndistortPoint finds where a source-image pixel lands in the corrected image, the inverse of
// a GenerateMap entry. It returns NaN coordinates when the source point has no preimage.
func UndistortPoint(
	in Intrinsics, dist KannalaBrandt, mode ProjectionMode, p r2.Point, opts ...func(o *MapOptions),
) (r2.Point, error) {
	var opt MapOptions
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}
	if err := in.CheckValid(); err != nil {
		return r2.Point{}, err
	}
	if err := dist.CheckValid(); err != nil {
		return r2.Point{}, err
	}
	out, err := mode.OutputIntrinsics(in)
	if err != nil {
		return r2.Point{}, err
	}
	inverse := &InverseKannalaBrandt{Forward: dist, Angle: opt.Angle}
	x, y := in.Normalize(p.X, p.Y)
	x, y = inverse.Transform(x, y)
	u, v := out.Denormalize(x, y)
	return r2.Point{X: u, Y: v}, nil
}
