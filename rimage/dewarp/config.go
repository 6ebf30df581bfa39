// Package dewarp turns frames from a fisheye camera into flat views. It owns the lookup table
// for one configuration and rebuilds it whenever the configuration changes.
package dewarp

import (
	"image/color"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/flatten/rimage/transform"
)

// LensType describes the physical lens the frames come from.
type LensType string

// Known lens types.
const (
	FisheyeLens     = LensType("fisheye")
	DualFisheyeLens = LensType("dual_fisheye")
	PanoramicLens   = LensType("panoramic")
)

// Projection is the geometry of the produced view.
type Projection string

// Known projections.
const (
	Equirectangular  = Projection("equirectangular")
	Rectilinear      = Projection("rectilinear")
	Cylindrical      = Projection("cylindrical")
	FisheyeUndistort = Projection("fisheye_undistort")
)

var (
	lensTypes   = []LensType{FisheyeLens, DualFisheyeLens, PanoramicLens}
	projections = []Projection{Equirectangular, Rectilinear, Cylindrical, FisheyeUndistort}
)

// ParseLensType maps a lens name to a LensType. Unknown names are treated as fisheye.
func ParseLensType(s string) LensType {
	lt := LensType(strings.ToLower(strings.TrimSpace(s)))
	if lo.Contains(lensTypes, lt) {
		return lt
	}
	return FisheyeLens
}

// ParseProjection maps a projection name to a Projection. Unknown names fall back to
// fisheye_undistort.
func ParseProjection(s string) Projection {
	p := Projection(strings.ToLower(strings.TrimSpace(s)))
	if lo.Contains(projections, p) {
		return p
	}
	return FisheyeUndistort
}

// Config holds everything needed to build a lookup table. Sizes are in pixels, angles in
// degrees and the center as a fraction of the input size.
type Config struct {
	LensType       LensType   `json:"lens_type" jsonschema:"enum=fisheye,enum=dual_fisheye,enum=panoramic"`
	Projection     Projection `json:"projection" jsonschema:"enum=equirectangular,enum=rectilinear,enum=cylindrical,enum=fisheye_undistort"`
	InputFOV       float64    `json:"input_fov_degs" jsonschema:"exclusiveMinimum=true,maximum=360"`
	InputWidth     int        `json:"input_width_px"`
	InputHeight    int        `json:"input_height_px"`
	OutputWidth    int        `json:"output_width_px"`
	OutputHeight   int        `json:"output_height_px"`
	CenterX        float64    `json:"center_x" jsonschema:"maximum=1"`
	CenterY        float64    `json:"center_y" jsonschema:"maximum=1"`
	PanAngle       float64    `json:"pan_degs"`
	TiltAngle      float64    `json:"tilt_degs"`
	RectilinearFOV float64    `json:"rectilinear_fov_degs"`

	// Fisheye undistortion parameters. A zero FocalLength means half the input width.
	FocalLength float64                  `json:"focal_length" jsonschema:"description=0 selects half the input width"`
	Mode        transform.ProjectionMode `json:"mode"`
	Distortion  transform.KannalaBrandt  `json:"distortion"`
	// Angle chooses theta = atan(r) or the camera application's theta = r.
	Angle transform.AngleModel `json:"angle_model"`

	Border color.RGBA `json:"-"`
}

// DefaultConfig returns the configuration the camera application starts with.
func DefaultConfig() Config {
	return Config{
		LensType:       FisheyeLens,
		Projection:     FisheyeUndistort,
		InputFOV:       180,
		OutputWidth:    1920,
		OutputHeight:   1080,
		CenterX:        0.5,
		CenterY:        0.5,
		RectilinearFOV: 90,
		Mode:           transform.Controlled(0.4),
		Distortion:     transform.KannalaBrandt{K1: -0.25, K2: 0.05},
	}
}

// Validate returns every problem with the config at once.
func (c *Config) Validate() error {
	var errs error
	if !lo.Contains(projections, c.Projection) {
		errs = multierr.Append(errs, transform.NewConfigError("projection", "unknown projection %q", c.Projection))
	}
	if !lo.Contains(lensTypes, c.LensType) {
		errs = multierr.Append(errs, transform.NewConfigError("lens_type", "unknown lens type %q", c.LensType))
	}
	if c.InputWidth < 0 || c.InputHeight < 0 {
		errs = multierr.Append(errs, transform.NewConfigError("input_size", "must not be negative"))
	}
	if c.OutputWidth < 0 || c.OutputHeight < 0 {
		errs = multierr.Append(errs, transform.NewConfigError("output_size", "must not be negative"))
	}
	if c.Projection != FisheyeUndistort && (c.OutputWidth == 0 || c.OutputHeight == 0) {
		errs = multierr.Append(errs, transform.NewConfigError("output_size", "required for %s", c.Projection))
	}
	if !finiteIn(c.InputFOV, 0, 360) || c.InputFOV == 0 {
		errs = multierr.Append(errs, transform.NewConfigError("input_fov_degs", "must be in (0, 360], got %v", c.InputFOV))
	}
	if !finiteIn(c.RectilinearFOV, 0, 180) || c.RectilinearFOV == 0 || c.RectilinearFOV == 180 {
		errs = multierr.Append(errs,
			transform.NewConfigError("rectilinear_fov_degs", "must be in (0, 180), got %v", c.RectilinearFOV))
	}
	if !finiteIn(c.CenterX, 0, 1) || !finiteIn(c.CenterY, 0, 1) {
		errs = multierr.Append(errs, transform.NewConfigError("center", "fractions must be in [0, 1]"))
	}
	if math.IsNaN(c.PanAngle) || math.IsInf(c.PanAngle, 0) || math.IsNaN(c.TiltAngle) || math.IsInf(c.TiltAngle, 0) {
		errs = multierr.Append(errs, transform.NewConfigError("pan_tilt", "angles must be finite"))
	}
	if c.FocalLength < 0 || math.IsNaN(c.FocalLength) || math.IsInf(c.FocalLength, 0) {
		errs = multierr.Append(errs, transform.NewConfigError("focal_length", "must be a non-negative finite number"))
	}
	if err := c.Mode.CheckValid(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.Angle.MarshalText(); err != nil {
		errs = multierr.Append(errs, transform.NewConfigError("angle_model", "unknown angle model %v", c.Angle))
	}
	if err := c.Distortion.CheckValid(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errors.Wrap(errs, "invalid dewarp config")
	}
	return nil
}

func finiteIn(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// inputIntrinsics returns the fisheye camera for an input of the configured size.
func (c *Config) inputIntrinsics() transform.Intrinsics {
	f := c.FocalLength
	if f == 0 {
		f = float64(c.InputWidth) / 2
	}
	return transform.Intrinsics{
		F:  f,
		Cx: c.CenterX * float64(c.InputWidth),
		Cy: c.CenterY * float64(c.InputHeight),
	}
}

// outputSize returns the size of the produced view. fisheye_undistort without an explicit
// output size keeps the input size.
func (c *Config) outputSize() (int, int) {
	if c.Projection == FisheyeUndistort && (c.OutputWidth == 0 || c.OutputHeight == 0) {
		return c.InputWidth, c.InputHeight
	}
	return c.OutputWidth, c.OutputHeight
}
