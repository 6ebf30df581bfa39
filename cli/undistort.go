package cli

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/flatten/config"
	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/transform"
)

// undistortJob is one output image of an undistort run.
type undistortJob struct {
	path string
	mode transform.ProjectionMode
}

// UndistortAction corrects a fisheye image, writing one output per requested scale.
func UndistortAction(c *cli.Context) error {
	logger := loggerFrom(c)

	src, err := openImage(c.String(flagIn))
	if err != nil {
		return err
	}
	size := src.Bounds().Size()

	in := transform.Intrinsics{
		F:  c.Float64(flagFocal),
		Cx: c.Float64(flagCx),
		Cy: c.Float64(flagCy),
	}
	if !c.IsSet(flagFocal) {
		in.F = float64(size.X) / 2
	}
	if !c.IsSet(flagCx) {
		in.Cx = float64(size.X) / 2
	}
	if !c.IsSet(flagCy) {
		in.Cy = float64(size.Y) / 2
	}
	dist, err := distortionFromFlags(c)
	if err != nil {
		return err
	}

	outSize := size
	if c.IsSet(flagWidth) {
		outSize.X = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		outSize.Y = c.Int(flagHeight)
	}

	// reuse the config color handling for the flags
	colors := config.Default()
	colors.BorderColor = c.String(flagBorder)
	colors.BorderAlpha = c.Float64(flagBorderAlpha)
	colors.GuideColor = c.String(flagGuideColor)
	border, err := colors.Border()
	if err != nil {
		return err
	}
	guide, err := colors.Guide()
	if err != nil {
		return err
	}

	jobs, err := undistortJobs(c.String(flagOut), c.String(flagMode), c.Float64Slice(flagScale))
	if err != nil {
		return err
	}

	angle := transform.AngleAtan
	if c.Bool(flagLinearAngle) {
		angle = transform.AngleLinear
	}

	logger.CDebugw(c.Context, "[PARAMS]",
		"input", size, "output", outSize,
		"f", in.F, "cx", in.Cx, "cy", in.Cy,
		"k", dist.Parameters(), "angle", angle, "outputs", len(jobs))

	g, ctx := errgroup.WithContext(c.Context)
	for _, job := range jobs {
		g.Go(func() error {
			return runUndistortJob(ctx, src, in, dist, job, outSize, angle, border, guide, c.Bool(flagGuides), logger)
		})
	}
	return g.Wait()
}

func runUndistortJob(
	ctx context.Context,
	src image.Image,
	in transform.Intrinsics,
	dist transform.KannalaBrandt,
	job undistortJob,
	outSize image.Point,
	angle transform.AngleModel,
	border, guide color.Color,
	guides bool,
	logger logging.Logger,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := transform.GenerateMap(in, dist, job.mode, outSize, func(o *transform.MapOptions) {
		o.Angle = angle
	})
	if err != nil {
		return err
	}
	out := transform.Resample(src, m, border)
	if guides {
		out = transform.DrawGuides(out, guide, config.Default().GuideThickness)
	}
	if err := saveImage(out, job.path); err != nil {
		return err
	}
	logger.Infow("wrote corrected image", "path", job.path, "mode", job.mode.String())
	return nil
}

// undistortJobs expands the requested scales into output paths. A single scale writes to out
// itself; several scales write out with a _s<scale> suffix before the extension.
func undistortJobs(out, modeName string, scales []float64) ([]undistortJob, error) {
	if len(scales) == 0 {
		scales = []float64{0.4}
	}
	if transform.ProjectionKind(strings.ToLower(modeName)) == transform.LegacyProjection {
		scales = scales[:1]
	}

	ext := filepath.Ext(out)
	base := strings.TrimSuffix(out, ext)
	jobs := make([]undistortJob, 0, len(scales))
	for _, scale := range scales {
		mode, err := transform.ParseProjectionMode(modeName, scale)
		if err != nil {
			return nil, err
		}
		path := out
		if len(scales) > 1 {
			path = fmt.Sprintf("%s_s%.2f%s", base, scale, ext)
		}
		jobs = append(jobs, undistortJob{path: path, mode: mode})
	}
	return jobs, nil
}
