package transform

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/flatten/utils"
)

var (
	referenceIntrinsics = Intrinsics{F: 1496, Cx: 1496, Cy: 1496}
	referenceDistortion = KannalaBrandt{K1: -0.25, K2: 0.05}
)

// referenceMap is an independent scalar evaluation of the equidistant fisheye map.
func referenceMap(in Intrinsics, fOut float64, k KannalaBrandt, u, v float64) (float64, float64) {
	x := (u - in.Cx) / fOut
	y := (v - in.Cy) / fOut
	r := math.Sqrt(x*x + y*y)
	theta := math.Atan(r)
	t2 := theta * theta
	thetaD := theta * (1 + k.K1*t2 + k.K2*t2*t2 + k.K3*t2*t2*t2 + k.K4*t2*t2*t2*t2)
	scale := 1.0
	if r > 1e-8 {
		scale = thetaD / r
	}
	return in.F*x*scale + in.Cx, in.F*y*scale + in.Cy
}

func TestGenerateMapReferenceScenario(t *testing.T) {
	m, err := GenerateMap(referenceIntrinsics, referenceDistortion, Controlled(0.4), image.Pt(2992, 2992))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Width, test.ShouldEqual, 2992)
	test.That(t, m.Height, test.ShouldEqual, 2992)
	test.That(t, m.Points, test.ShouldHaveLength, 2992*2992)

	p := m.At(1496, 1000)
	test.That(t, p.X, test.ShouldAlmostEqual, 1496, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, 572.7252, 1e-3)

	for _, px := range []image.Point{{1496, 1000}, {2000, 1496}, {1496, 2000}, {0, 0}, {2991, 2991}, {17, 2400}} {
		u, v := referenceMap(referenceIntrinsics, 598.4, referenceDistortion, float64(px.X), float64(px.Y))
		got := m.At(px.X, px.Y)
		test.That(t, got.X, test.ShouldAlmostEqual, u, 1e-3)
		test.That(t, got.Y, test.ShouldAlmostEqual, v, 1e-3)
	}

	test.That(t, m.At(2000, 1496).X, test.ShouldAlmostEqual, 2427.4639, 1e-3)
}

func TestGenerateMapDeterministic(t *testing.T) {
	in := Intrinsics{F: 310, Cx: 160.5, Cy: 119.25}
	k := KannalaBrandt{K1: 0.081, K2: 0.05, K3: -0.01, K4: 0.003}
	size := image.Pt(320, 240)

	m1, err := GenerateMap(in, k, Controlled(0.7), size)
	test.That(t, err, test.ShouldBeNil)
	m2, err := GenerateMap(in, k, Controlled(0.7), size)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m1.Equal(m2), test.ShouldBeTrue)

	m3, err := GenerateMap(in, k, Controlled(0.71), size)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m1.Equal(m3), test.ShouldBeFalse)
}

func TestGenerateMapParallelMatchesSequential(t *testing.T) {
	prev := utils.ParallelFactor
	utils.ParallelFactor = 7
	defer func() { utils.ParallelFactor = prev }()

	in := Intrinsics{F: 250, Cx: 200, Cy: 150}
	k := KannalaBrandt{K1: -0.162, K2: 0.05}
	size := image.Pt(401, 297)

	par, err := GenerateMap(in, k, Controlled(0.5), size)
	test.That(t, err, test.ShouldBeNil)
	seq, err := GenerateMap(in, k, Controlled(0.5), size, func(o *MapOptions) { o.Sequential = true })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, par.Equal(seq), test.ShouldBeTrue)
}

func TestGenerateMapCenterFixpoint(t *testing.T) {
	in := Intrinsics{F: 725, Cx: 320, Cy: 240}
	for _, k := range []KannalaBrandt{{}, {K1: 0.9}, {K1: -1, K2: 1, K3: -1, K4: 1}} {
		for _, mode := range []ProjectionMode{Legacy(), Controlled(0.3), Controlled(2)} {
			m, err := GenerateMap(in, k, mode, image.Pt(640, 480))
			test.That(t, err, test.ShouldBeNil)
			p := m.At(320, 240)
			test.That(t, p.X, test.ShouldEqual, 320.0)
			test.That(t, p.Y, test.ShouldEqual, 240.0)
		}
	}
}

func TestGenerateMapZeroDistortion(t *testing.T) {
	in := Intrinsics{F: 960, Cx: 200, Cy: 100}
	size := image.Pt(400, 200)
	fOut := in.F * 0.5

	linear, err := GenerateMap(in, KannalaBrandt{}, Controlled(0.5), size, func(o *MapOptions) { o.Angle = AngleLinear })
	test.That(t, err, test.ShouldBeNil)
	atan, err := GenerateMap(in, KannalaBrandt{}, Controlled(0.5), size)
	test.That(t, err, test.ShouldBeNil)

	for v := 0; v < size.Y; v += 13 {
		for u := 0; u < size.X; u += 17 {
			// theta = r: a pure pinhole rescale.
			p := linear.At(u, v)
			test.That(t, p.X, test.ShouldAlmostEqual, in.F*(float64(u)-in.Cx)/fOut+in.Cx, 1e-9)
			test.That(t, p.Y, test.ShouldAlmostEqual, in.F*(float64(v)-in.Cy)/fOut+in.Cy, 1e-9)

			// theta = atan(r): the ideal equidistant mapping.
			x, y := (float64(u)-in.Cx)/fOut, (float64(v)-in.Cy)/fOut
			r := math.Hypot(x, y)
			scale := 1.0
			if r > 1e-8 {
				scale = math.Atan(r) / r
			}
			q := atan.At(u, v)
			test.That(t, q.X, test.ShouldAlmostEqual, in.F*x*scale+in.Cx, 1e-9)
			test.That(t, q.Y, test.ShouldAlmostEqual, in.F*y*scale+in.Cy, 1e-9)
		}
	}
}

func TestGenerateMapLegacyMatchesUnitScale(t *testing.T) {
	in := Intrinsics{F: 727, Cx: 300.5, Cy: 210}
	k := KannalaBrandt{K1: 0.09, K2: 0.05}
	legacy, err := GenerateMap(in, k, Legacy(), image.Pt(300, 200))
	test.That(t, err, test.ShouldBeNil)
	unit, err := GenerateMap(in, k, Controlled(1.0), image.Pt(300, 200))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, legacy.Equal(unit), test.ShouldBeTrue)
}

func TestGenerateMapConfigErrors(t *testing.T) {
	good := Intrinsics{F: 500, Cx: 10, Cy: 10}
	size := image.Pt(20, 20)

	for _, tc := range []struct {
		name  string
		in    Intrinsics
		k     KannalaBrandt
		mode  ProjectionMode
		size  image.Point
		param string
	}{
		{"zero focal", Intrinsics{F: 0, Cx: 1, Cy: 1}, KannalaBrandt{}, Legacy(), size, "focal_length"},
		{"negative focal", Intrinsics{F: -2}, KannalaBrandt{}, Legacy(), size, "focal_length"},
		{"nan center", Intrinsics{F: 1, Cx: math.NaN()}, KannalaBrandt{}, Legacy(), size, "cx"},
		{"inf coefficient", good, KannalaBrandt{K3: math.Inf(1)}, Legacy(), size, "k3"},
		{"zero scale", good, KannalaBrandt{}, Controlled(0), size, "scale"},
		{"negative scale", good, KannalaBrandt{}, Controlled(-1), size, "scale"},
		{"unknown mode", good, KannalaBrandt{}, ProjectionMode{Kind: "fancy"}, size, "projection_mode"},
		{"empty mode", good, KannalaBrandt{}, ProjectionMode{}, size, "projection_mode"},
		{"empty size", good, KannalaBrandt{}, Legacy(), image.Pt(0, 10), "output_size"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := GenerateMap(tc.in, tc.k, tc.mode, tc.size)
			test.That(t, m, test.ShouldBeNil)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, IsConfigError(err), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.param)
		})
	}
}

func TestUndistortPointInvertsMap(t *testing.T) {
	in := Intrinsics{F: 600, Cx: 400, Cy: 300}
	k := KannalaBrandt{K1: -0.05, K2: 0.01}
	mode := Controlled(0.6)
	m, err := GenerateMap(in, k, mode, image.Pt(800, 600))
	test.That(t, err, test.ShouldBeNil)

	for _, px := range []image.Point{{400, 300}, {100, 50}, {700, 550}, {420, 10}} {
		src := m.At(px.X, px.Y)
		back, err := UndistortPoint(in, k, mode, src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.X, test.ShouldAlmostEqual, float64(px.X), 1e-6)
		test.That(t, back.Y, test.ShouldAlmostEqual, float64(px.Y), 1e-6)
	}

	_, err = UndistortPoint(in, k, Controlled(-1), r2.Point{})
	test.That(t, IsConfigError(err), test.ShouldBeTrue)
}

func TestCoordinateMapEqual(t *testing.T) {
	a := NewCoordinateMap(2, 1)
	b := NewCoordinateMap(2, 1)
	a.Points[1] = r2.Point{X: math.NaN(), Y: 1}
	b.Points[1] = r2.Point{X: math.NaN(), Y: 1}
	test.That(t, a.Equal(b), test.ShouldBeTrue)
	test.That(t, a.Equal(NewCoordinateMap(1, 2)), test.ShouldBeFalse)
	test.That(t, a.Equal(nil), test.ShouldBeFalse)
	test.That(t, a.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 1))
}
