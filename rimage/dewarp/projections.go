package dewarp

import (
	"image"
	"math"

	"go.viam.com/flatten/rimage/transform"
)

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}

// fisheyeLens maps unit rays to pixels of an ideal equidistant fisheye whose image circle
// spans the shorter side of the input.
type fisheyeLens struct {
	cx, cy  float64
	halfFOV float64
	radius  float64
}

func newFisheyeLens(c *Config) fisheyeLens {
	return fisheyeLens{
		cx:      c.CenterX * float64(c.InputWidth),
		cy:      c.CenterY * float64(c.InputHeight),
		halfFOV: degToRad(c.InputFOV) / 2,
		radius:  float64(min(c.InputWidth, c.InputHeight)) / 2,
	}
}

// project returns the source pixel for the unit ray (x, y, z). When clip is set, rays outside
// the lens field of view give NaN.
func (l fisheyeLens) project(x, y, z float64, clip bool) (float64, float64) {
	theta := math.Acos(math.Max(-1, math.Min(1, z)))
	if clip && theta > l.halfFOV {
		return math.NaN(), math.NaN()
	}
	phi := math.Atan2(y, x)
	r := theta / l.halfFOV * l.radius
	return l.cx + r*math.Cos(phi), l.cy + r*math.Sin(phi)
}

func normalizeRay(x, y, z float64) (float64, float64, float64) {
	n := math.Sqrt(x*x + y*y + z*z)
	return x / n, y / n, z / n
}

func equirectangularMap(c *Config) transform.PixelMapFunc {
	lens := newFisheyeLens(c)
	pan, tilt := degToRad(c.PanAngle), degToRad(c.TiltAngle)
	w, h := float64(c.OutputWidth), float64(c.OutputHeight)
	return func(u, v float64) (float64, float64) {
		lon := (2*u/w-1)*math.Pi + pan
		lat := (2*v/h-1)*math.Pi/2 + tilt
		x := math.Cos(lat) * math.Sin(lon)
		y := math.Sin(lat)
		z := math.Cos(lat) * math.Cos(lon)
		return lens.project(x, y, z, false)
	}
}

func rectilinearMap(c *Config) transform.PixelMapFunc {
	lens := newFisheyeLens(c)
	pan, tilt := degToRad(c.PanAngle), degToRad(c.TiltAngle)
	w, h := float64(c.OutputWidth), float64(c.OutputHeight)
	focal := w / (2 * math.Tan(degToRad(c.RectilinearFOV)/2))
	cosPan, sinPan := math.Cos(pan), math.Sin(pan)
	cosTilt, sinTilt := math.Cos(tilt), math.Sin(tilt)
	return func(u, v float64) (float64, float64) {
		x := (u - w/2) / focal
		y := (v - h/2) / focal
		z := 1.0

		// pan about Y, then tilt about X
		x, z = x*cosPan+z*sinPan, -x*sinPan+z*cosPan
		y, z = y*cosTilt-z*sinTilt, y*sinTilt+z*cosTilt

		x, y, z = normalizeRay(x, y, z)
		return lens.project(x, y, z, true)
	}
}

func cylindricalMap(c *Config) transform.PixelMapFunc {
	lens := newFisheyeLens(c)
	pan, tilt := degToRad(c.PanAngle), degToRad(c.TiltAngle)
	w, h := float64(c.OutputWidth), float64(c.OutputHeight)
	return func(u, v float64) (float64, float64) {
		lon := (2*u/w-1)*math.Pi + pan
		vert := (2*v/h-1)*lens.halfFOV + tilt
		x, y, z := normalizeRay(math.Sin(lon), math.Tan(vert), math.Cos(lon))
		return lens.project(x, y, z, true)
	}
}

// buildMap builds the lookup table for a validated config with a known input size.
func buildMap(c *Config, sequential bool) (*transform.CoordinateMap, error) {
	if c.Projection == FisheyeUndistort {
		w, h := c.outputSize()
		return transform.GenerateMap(
			c.inputIntrinsics(), c.Distortion, c.Mode, image.Pt(w, h),
			func(o *transform.MapOptions) {
				o.Angle = c.Angle
				o.Sequential = sequential
			},
		)
	}

	var fn transform.PixelMapFunc
	switch c.Projection {
	case Equirectangular:
		fn = equirectangularMap(c)
	case Rectilinear:
		fn = rectilinearMap(c)
	case Cylindrical:
		fn = cylindricalMap(c)
	default:
		return nil, transform.NewConfigError("projection", "unknown projection %q", c.Projection)
	}
	return transform.FillMap(c.OutputWidth, c.OutputHeight, fn, sequential), nil
}
