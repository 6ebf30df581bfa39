package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"go.viam.com/flatten/rimage/dewarp"
	"go.viam.com/flatten/rimage/transform"
)

// paramReader pulls typed values out of a flat parameter map. Missing or empty values keep
// the default; values that do not convert are collected as errors.
type paramReader struct {
	params map[string]string
	errs   error
}

func (p *paramReader) lookup(name string) (string, bool) {
	v, ok := p.params[name]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *paramReader) str(name string, dst *string) {
	if v, ok := p.lookup(name); ok {
		*dst = v
	}
}

func (p *paramReader) float(name string, dst *float64) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		p.errs = multierr.Append(p.errs, transform.NewConfigError(name, "not a number: %q", v))
		return
	}
	*dst = f
}

func (p *paramReader) int(name string, dst *int) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		p.errs = multierr.Append(p.errs, transform.NewConfigError(name, "not an integer: %q", v))
		return
	}
	*dst = n
}

func (p *paramReader) bool(name string, dst *bool) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		p.errs = multierr.Append(p.errs, transform.NewConfigError(name, "not a boolean: %q", v))
		return
	}
	*dst = b
}

// FromParameters builds a config from the named parameters of the camera application, such
// as "Projection", "InputFOV" or "K1". Lens and projection names are parsed leniently and
// fall back to fisheye and fisheye_undistort.
func FromParameters(params map[string]string) (*Config, error) {
	cfg := Default()
	p := &paramReader{params: params}
	d := &cfg.Dewarp

	var lens, projection string
	p.str("LensType", &lens)
	p.str("Projection", &projection)
	if lens != "" {
		d.LensType = dewarp.ParseLensType(lens)
	}
	if projection != "" {
		d.Projection = dewarp.ParseProjection(projection)
	}

	p.float("InputFOV", &d.InputFOV)
	p.int("InputWidth", &d.InputWidth)
	p.int("InputHeight", &d.InputHeight)
	p.int("OutputWidth", &d.OutputWidth)
	p.int("OutputHeight", &d.OutputHeight)
	p.float("CenterX", &d.CenterX)
	p.float("CenterY", &d.CenterY)
	p.float("PanAngle", &d.PanAngle)
	p.float("TiltAngle", &d.TiltAngle)
	p.float("RectilinearFOV", &d.RectilinearFOV)

	p.float("FocalLength", &d.FocalLength)
	mode, scale := string(d.Mode.Kind), d.Mode.Scale
	p.str("Mode", &mode)
	p.float("Scale", &scale)
	var angle string
	p.str("AngleModel", &angle)
	p.float("K1", &d.Distortion.K1)
	p.float("K2", &d.Distortion.K2)
	p.float("K3", &d.Distortion.K3)
	p.float("K4", &d.Distortion.K4)

	p.str("BorderColor", &cfg.BorderColor)
	p.float("BorderAlpha", &cfg.BorderAlpha)
	p.bool("Guides", &cfg.Guides)
	p.str("GuideColor", &cfg.GuideColor)
	p.float("GuideThickness", &cfg.GuideThickness)
	p.int("HTTPPort", &cfg.HTTPPort)
	p.str("HTTPPrefix", &cfg.HTTPPrefix)
	p.int("RTSPPort", &cfg.RTSPPort)
	p.int("Framerate", &cfg.Framerate)
	p.str("LogLevel", &cfg.LogLevel)

	if p.errs != nil {
		return nil, errors.Wrap(p.errs, "invalid parameters")
	}

	m, err := transform.ParseProjectionMode(mode, scale)
	if err != nil {
		return nil, err
	}
	d.Mode = m
	if angle != "" {
		if d.Angle, err = transform.ParseAngleModel(angle); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
