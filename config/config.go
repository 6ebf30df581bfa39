// Package config reads the settings of a flatten deployment.
package config

import (
	"bytes"
	"encoding/json"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/a8m/envsubst"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/dewarp"
	"go.viam.com/flatten/rimage/transform"
	"go.viam.com/flatten/web/stream"
)

// Config is the full deployment configuration.
type Config struct {
	Dewarp dewarp.Config `json:"dewarp"`

	BorderColor    string  `json:"border_color"`
	BorderAlpha    float64 `json:"border_alpha" jsonschema:"maximum=1"`
	Guides         bool    `json:"guides"`
	GuideColor     string  `json:"guide_color"`
	GuideThickness float64 `json:"guide_thickness"`

	HTTPPort   int    `json:"http_port"`
	HTTPPrefix string `json:"http_prefix"`
	// RTSPPort is where the MJPEG stream is served. 0 disables the stream.
	RTSPPort   int    `json:"rtsp_port"`
	Framerate  int    `json:"framerate"`
	LogLevel   string `json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the configuration used for anything a file or parameter set leaves out.
func Default() Config {
	return Config{
		Dewarp:         dewarp.DefaultConfig(),
		BorderColor:    "#000000",
		GuideColor:     "#00ff00",
		GuideThickness: 4,
		HTTPPort:       8080,
		HTTPPrefix:     "/local/flatten_image",
		RTSPPort:       stream.DefaultPort,
		Framerate:      15,
		LogLevel:       "info",
	}
}

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "in config %q", filePath)
	}
	return cfg, nil
}

// FromReader decodes a config on top of the defaults and validates it. The input is JSON5, so
// hand-edited files may carry comments, unquoted keys and trailing commas. Unknown fields are
// rejected.
func FromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config")
	}
	var doc interface{}
	if err := json5.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns every problem with the config at once.
func (c *Config) Validate() error {
	var errs error
	if err := c.Dewarp.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.Border(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.Guide(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.GuideThickness <= 0 || math.IsNaN(c.GuideThickness) || math.IsInf(c.GuideThickness, 0) {
		errs = multierr.Append(errs, transform.NewConfigError("guide_thickness", "must be positive, got %v", c.GuideThickness))
	}
	if c.HTTPPort < 0 || c.HTTPPort > math.MaxUint16 {
		errs = multierr.Append(errs, transform.NewConfigError("http_port", "out of range: %d", c.HTTPPort))
	}
	if c.RTSPPort < 0 || c.RTSPPort > math.MaxUint16 {
		errs = multierr.Append(errs, transform.NewConfigError("rtsp_port", "out of range: %d", c.RTSPPort))
	}
	if c.Framerate <= 0 {
		errs = multierr.Append(errs, transform.NewConfigError("framerate", "must be positive, got %d", c.Framerate))
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		errs = multierr.Append(errs, transform.NewConfigError("log_level", "%s", err.Error()))
	}
	return errs
}

// Border returns the fill color for pixels without a source sample.
func (c *Config) Border() (color.RGBA, error) {
	if math.IsNaN(c.BorderAlpha) || c.BorderAlpha < 0 || c.BorderAlpha > 1 {
		return color.RGBA{}, transform.NewConfigError("border_alpha", "must be in [0, 1], got %v", c.BorderAlpha)
	}
	return parseColor("border_color", c.BorderColor, c.BorderAlpha)
}

// Guide returns the color of the alignment guides.
func (c *Config) Guide() (color.RGBA, error) {
	return parseColor("guide_color", c.GuideColor, 1)
}

// DewarpConfig returns the dewarper settings with the border color applied.
func (c *Config) DewarpConfig() (dewarp.Config, error) {
	border, err := c.Border()
	if err != nil {
		return dewarp.Config{}, err
	}
	cfg := c.Dewarp
	cfg.Border = border
	return cfg, nil
}

// CapturePeriod is the time between two frames pushed into the history.
func (c *Config) CapturePeriod() time.Duration {
	if c.Framerate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.Framerate)
}

func parseColor(param, hex string, alpha float64) (color.RGBA, error) {
	cc, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, transform.NewConfigError(param, "%s", err.Error())
	}
	r, g, b := cc.RGB255()
	a := uint8(math.Round(alpha * 255))
	return color.RGBAModel.Convert(color.NRGBA{R: r, G: g, B: b, A: a}).(color.RGBA), nil
}
