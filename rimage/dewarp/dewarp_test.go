package dewarp

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/transform"
)

func panoramicConfig(p Projection) Config {
	cfg := DefaultConfig()
	cfg.Projection = p
	cfg.InputWidth, cfg.InputHeight = 200, 100
	cfg.OutputWidth, cfg.OutputHeight = 64, 48
	return cfg
}

func TestParseNames(t *testing.T) {
	test.That(t, ParseProjection("Rectilinear"), test.ShouldEqual, Rectilinear)
	test.That(t, ParseProjection(" cylindrical "), test.ShouldEqual, Cylindrical)
	test.That(t, ParseProjection("equirectangular"), test.ShouldEqual, Equirectangular)
	test.That(t, ParseProjection("mercator"), test.ShouldEqual, FisheyeUndistort)
	test.That(t, ParseProjection(""), test.ShouldEqual, FisheyeUndistort)

	test.That(t, ParseLensType("dual_fisheye"), test.ShouldEqual, DualFisheyeLens)
	test.That(t, ParseLensType("PANORAMIC"), test.ShouldEqual, PanoramicLens)
	test.That(t, ParseLensType("tilt-shift"), test.ShouldEqual, FisheyeLens)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.InputFOV = 0
	cfg.CenterX = 1.5
	cfg.Mode = transform.Controlled(-1)
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, transform.IsConfigError(err), test.ShouldBeTrue)
	test.That(t, multierr.Errors(errors.Cause(err)), test.ShouldHaveLength, 3)
	test.That(t, err.Error(), test.ShouldContainSubstring, "input_fov_degs")
	test.That(t, err.Error(), test.ShouldContainSubstring, "center")
	test.That(t, err.Error(), test.ShouldContainSubstring, "scale")

	cfg = panoramicConfig(Rectilinear)
	cfg.OutputWidth = 0
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "output_size")

	cfg = panoramicConfig(Rectilinear)
	cfg.RectilinearFOV = 180
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "rectilinear_fov_degs")
}

func TestProcessBeforeInit(t *testing.T) {
	d := NewDewarper(logging.NewTestLogger(t))
	_, err := d.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)

	err = d.UpdateConfig(DefaultConfig())
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)
	test.That(t, d.Map(), test.ShouldBeNil)
}

func TestFisheyeUndistortMatchesGenerateMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputWidth, cfg.InputHeight = 80, 60
	cfg.OutputWidth, cfg.OutputHeight = 0, 0

	d := NewDewarper(logging.NewTestLogger(t))
	test.That(t, d.Init(cfg), test.ShouldBeNil)

	expected, err := transform.GenerateMap(
		transform.Intrinsics{F: 40, Cx: 40, Cy: 30}, cfg.Distortion, cfg.Mode, image.Pt(80, 60))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Map().Equal(expected), test.ShouldBeTrue)

	out, err := d.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 80, 60)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 80, 60))

	_, err = d.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 81, 60)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expects 80x60")
}

// cameraAppSource is the source pixel the camera application computes for output pixel (u, v),
// taking the incidence angle to be the normalized output radius.
func cameraAppSource(cfg Config, u, v float64) (float64, float64) {
	f := cfg.FocalLength
	cx, cy := cfg.CenterX*float64(cfg.InputWidth), cfg.CenterY*float64(cfg.InputHeight)
	fOut := f * cfg.Mode.Scale
	x, y := (u-cx)/fOut, (v-cy)/fOut
	r := math.Hypot(x, y)
	scale := 1.0
	if r > 1e-8 {
		theta := r
		t2 := theta * theta
		k := cfg.Distortion
		thetaD := theta * (1 + k.K1*t2 + k.K2*t2*t2 + k.K3*t2*t2*t2 + k.K4*t2*t2*t2*t2)
		scale = thetaD / r
	}
	return f*x*scale + cx, f*y*scale + cy
}

func TestFisheyeUndistortLinearAngle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputWidth, cfg.InputHeight = 120, 90
	cfg.OutputWidth, cfg.OutputHeight = 0, 0
	cfg.FocalLength = 60
	cfg.Angle = transform.AngleLinear

	d := NewDewarper(logging.NewTestLogger(t))
	test.That(t, d.Init(cfg), test.ShouldBeNil)
	m := d.Map()
	for _, p := range []image.Point{{0, 0}, {60, 45}, {60, 0}, {119, 89}, {17, 73}} {
		x, y := cameraAppSource(cfg, float64(p.X), float64(p.Y))
		got := m.At(p.X, p.Y)
		test.That(t, got.X, test.ShouldAlmostEqual, x, 1e-9)
		test.That(t, got.Y, test.ShouldAlmostEqual, y, 1e-9)
	}

	atan := cfg
	atan.Angle = transform.AngleAtan
	test.That(t, d.UpdateConfig(atan), test.ShouldBeNil)
	test.That(t, d.Map().At(60, 0).Y, test.ShouldNotAlmostEqual, m.At(60, 0).Y, 1)
}

func TestAngleModelNames(t *testing.T) {
	for name, want := range map[string]transform.AngleModel{
		"": transform.AngleAtan, "atan": transform.AngleAtan, " Linear ": transform.AngleLinear,
	} {
		got, err := transform.ParseAngleModel(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := transform.ParseAngleModel("tan")
	test.That(t, transform.IsConfigError(err), test.ShouldBeTrue)

	cfg := DefaultConfig()
	cfg.Angle = transform.AngleModel(7)
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "angle_model")
}

func TestInputSizeFromFirstFrame(t *testing.T) {
	cfg := panoramicConfig(Cylindrical)
	cfg.InputWidth, cfg.InputHeight = 0, 0

	d := NewDewarper(logging.NewTestLogger(t))
	test.That(t, d.Init(cfg), test.ShouldBeNil)
	test.That(t, d.Map(), test.ShouldBeNil)

	out, err := d.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 120, 90)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds().Size(), test.ShouldResemble, image.Pt(64, 48))
	test.That(t, d.Config().InputWidth, test.ShouldEqual, 120)
	test.That(t, d.Config().InputHeight, test.ShouldEqual, 90)
	test.That(t, d.Map(), test.ShouldNotBeNil)

	_, err = d.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 60, 90)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUpdateConfigKeepsPreviousOnError(t *testing.T) {
	d := NewDewarper(logging.NewTestLogger(t))
	test.That(t, d.Init(panoramicConfig(Rectilinear)), test.ShouldBeNil)
	before := d.Map()

	bad := panoramicConfig(Equirectangular)
	bad.InputFOV = math.NaN()
	test.That(t, d.UpdateConfig(bad), test.ShouldNotBeNil)
	test.That(t, d.Config().Projection, test.ShouldEqual, Rectilinear)
	test.That(t, d.Map(), test.ShouldEqual, before)

	test.That(t, d.UpdateConfig(panoramicConfig(Equirectangular)), test.ShouldBeNil)
	test.That(t, d.Config().Projection, test.ShouldEqual, Equirectangular)
	test.That(t, d.Map().Equal(before), test.ShouldBeFalse)
}

func TestProjectionsLookForward(t *testing.T) {
	for _, p := range []Projection{Equirectangular, Rectilinear, Cylindrical} {
		t.Run(string(p), func(t *testing.T) {
			cfg := panoramicConfig(p)
			m, err := buildMap(&cfg, true)
			test.That(t, err, test.ShouldBeNil)
			center := m.At(32, 24)
			test.That(t, center.X, test.ShouldAlmostEqual, 100, 1e-9)
			test.That(t, center.Y, test.ShouldAlmostEqual, 50, 1e-9)
		})
	}
}

func TestProjectionFieldOfView(t *testing.T) {
	cfg := panoramicConfig(Rectilinear)
	cfg.InputFOV = 90
	cfg.RectilinearFOV = 170
	m, err := buildMap(&cfg, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(m.At(0, 0).X), test.ShouldBeTrue)
	test.That(t, math.IsNaN(m.At(32, 24).X), test.ShouldBeFalse)

	cfg = panoramicConfig(Cylindrical)
	m, err = buildMap(&cfg, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(m.At(0, 24).X), test.ShouldBeTrue)

	// equirectangular keeps sampling behind the lens; the border fill takes over.
	cfg = panoramicConfig(Equirectangular)
	m, err = buildMap(&cfg, true)
	test.That(t, err, test.ShouldBeNil)
	behind := m.At(0, 24)
	test.That(t, behind.X, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, behind.Y, test.ShouldAlmostEqual, 50, 1e-6)
}

func TestPanShiftsView(t *testing.T) {
	cfg := panoramicConfig(Rectilinear)
	cfg.PanAngle = 30
	m, err := buildMap(&cfg, true)
	test.That(t, err, test.ShouldBeNil)
	// 30 degrees of a 180 degree lens is a third of the image circle radius.
	center := m.At(32, 24)
	test.That(t, center.X, test.ShouldAlmostEqual, 100+50.0/3, 1e-9)
	test.That(t, center.Y, test.ShouldAlmostEqual, 50, 1e-9)
}

func TestBuildMapParallelMatchesSequential(t *testing.T) {
	for _, p := range []Projection{Equirectangular, Rectilinear, Cylindrical, FisheyeUndistort} {
		cfg := panoramicConfig(p)
		seq, err := buildMap(&cfg, true)
		test.That(t, err, test.ShouldBeNil)
		par, err := buildMap(&cfg, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, par.Equal(seq), test.ShouldBeTrue)
	}
}

func TestProcessFillsBorder(t *testing.T) {
	cfg := panoramicConfig(Cylindrical)
	cfg.Border = color.RGBA{R: 255, A: 255}
	d := NewDewarper(logging.NewTestLogger(t))
	test.That(t, d.Init(cfg), test.ShouldBeNil)

	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	out, err := d.Process(context.Background(), src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.RGBAAt(0, 24), test.ShouldResemble, color.RGBA{R: 255, A: 255})
	test.That(t, out.RGBAAt(32, 24), test.ShouldResemble, color.RGBA{R: 200, G: 200, B: 200, A: 200})
}
