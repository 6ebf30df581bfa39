package cli

import (
	"fmt"
	"image"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/golang/geo/r2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/flatten/rimage/transform"
)

// inspectPixels are output pixels around the center of a 2992x2992 sensor.
var inspectPixels = []image.Point{{1496, 1496}, {1496, 1000}, {2000, 1496}, {1496, 2000}}

// InspectAction prints the input and output camera matrices and where a few output pixels
// sample the source.
func InspectAction(c *cli.Context) error {
	w, h := c.Int(flagWidth), c.Int(flagHeight)
	in := transform.Intrinsics{F: c.Float64(flagFocal), Cx: float64(w) / 2, Cy: float64(h) / 2}
	if !c.IsSet(flagFocal) {
		in.F = float64(w) / 2
	}
	if err := in.CheckValid(); err != nil {
		return err
	}
	dist, err := distortionFromFlags(c)
	if err != nil {
		return err
	}
	mode, err := transform.ParseProjectionMode(c.String(flagMode), c.Float64(flagScale))
	if err != nil {
		return err
	}
	out, err := mode.OutputIntrinsics(in)
	if err != nil {
		return err
	}
	kOut, err := mode.OutputCameraMatrix(in)
	if err != nil {
		return err
	}

	printf(c, "input %dx%d, mode %s, k=%v\n", w, h, mode, dist.Parameters())
	printf(c, "K =\n%v\n", mat.Formatted(in.CameraMatrix(), mat.Prefix("    "), mat.Squeeze()))
	printf(c, "K_out =\n%v\n", mat.Formatted(kOut, mat.Prefix("    "), mat.Squeeze()))

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Output pixel", "Source x", "Source y", "Inverse x", "Inverse y"})
	mapPixel := transform.DistortionMap(in, out, dist.Transform)
	for _, p := range inspectPixels {
		x, y := mapPixel(float64(p.X), float64(p.Y))
		back, err := transform.UndistortPoint(in, dist, mode, r2.Point{X: x, Y: y})
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("(%d, %d)", p.X, p.Y),
			fmt.Sprintf("%.4f", x),
			fmt.Sprintf("%.4f", y),
			fmt.Sprintf("%.4f", back.X),
			fmt.Sprintf("%.4f", back.Y),
		})
	}
	printf(c, "%s\n", t.Render())

	if stride := c.Int(flagStride); stride > 0 {
		return printShiftSummary(c, mapPixel, image.Pt(w, h), stride)
	}
	return nil
}

// printShiftSummary samples the map every stride pixels and reports how many output pixels
// find a source sample and how far those samples are from the output position.
func printShiftSummary(c *cli.Context, mapPixel transform.PixelMapFunc, size image.Point, stride int) error {
	var shifts stats.Float64Data
	total := 0
	for v := 0; v < size.Y; v += stride {
		for u := 0; u < size.X; u += stride {
			total++
			x, y := mapPixel(float64(u), float64(v))
			if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(size.X-1) || y > float64(size.Y-1) {
				continue
			}
			shifts = append(shifts, math.Hypot(x-float64(u), y-float64(v)))
		}
	}
	printf(c, "%d of %d sampled output pixels (%.1f%%) read inside the source\n",
		len(shifts), total, 100*float64(len(shifts))/float64(total))
	if len(shifts) == 0 {
		return nil
	}

	mean, errMean := stats.Mean(shifts)
	median, errMedian := stats.Median(shifts)
	p95, errP95 := stats.Percentile(shifts, 95)
	most, errMax := stats.Max(shifts)
	if err := multierr.Combine(errMean, errMedian, errP95, errMax); err != nil {
		return errors.Wrap(err, "cannot summarize shifts")
	}
	printf(c, "shift in px: mean %.2f, median %.2f, p95 %.2f, max %.2f\n", mean, median, p95, most)
	return histogram.Fprint(c.App.Writer, histogram.Hist(10, shifts), histogram.Linear(40))
}

func printf(c *cli.Context, format string, args ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format, args...)
}
