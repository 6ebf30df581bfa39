// Package cli contains the flatten command line application.
package cli

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/transform"
)

const (
	// Global flags.
	generalFlagDebug    = "debug"
	generalFlagLogLevel = "log-level"
	generalFlagLogFile  = "log-file"

	// Image flags.
	flagIn          = "in"
	flagOut         = "out"
	flagConfig      = "config"
	flagFocal       = "f"
	flagCx          = "cx"
	flagCy          = "cy"
	flagK1          = "k1"
	flagK2          = "k2"
	flagK3          = "k3"
	flagK4          = "k4"
	flagMode        = "mode"
	flagScale       = "scale"
	flagWidth       = "width"
	flagHeight      = "height"
	flagLinearAngle = "linear-angle"
	flagGuides      = "guides"
	flagGuideColor  = "guide-color"
	flagBorder      = "border"
	flagBorderAlpha = "border-alpha"
	flagQuality     = "quality"

	// Serve flags.
	flagPort   = "port"
	flagPrefix = "prefix"
	flagRTSP   = "rtsp-port"

	// Inspect flags.
	flagStride = "stride"

	loggerKey   = "logger"
	appenderKey = "log-appender"
)

func distortionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: flagK1, Value: -0.25, Usage: "first distortion coefficient"},
		&cli.Float64Flag{Name: flagK2, Value: 0.05, Usage: "second distortion coefficient"},
		&cli.Float64Flag{Name: flagK3, Usage: "third distortion coefficient"},
		&cli.Float64Flag{Name: flagK4, Usage: "fourth distortion coefficient"},
		&cli.StringFlag{Name: flagMode, Value: "controlled", Usage: "output projection: legacy or controlled"},
	}
}

var undistortFlags = append([]cli.Flag{
	&cli.StringFlag{Name: flagIn, Usage: "fisheye `IMAGE` to correct", Required: true},
	&cli.StringFlag{Name: flagOut, Usage: "where to write the corrected `IMAGE`", Required: true},
	&cli.Float64Flag{Name: flagFocal, Usage: "focal length in pixels (default: half the image width)"},
	&cli.Float64Flag{Name: flagCx, Usage: "optical center x in pixels (default: image center)"},
	&cli.Float64Flag{Name: flagCy, Usage: "optical center y in pixels (default: image center)"},
	&cli.Float64SliceFlag{
		Name:  flagScale,
		Value: cli.NewFloat64Slice(0.4),
		Usage: "focal length scale for controlled mode; repeat to write one image per scale",
	},
	&cli.IntFlag{Name: flagWidth, Usage: "output width (default: input width)"},
	&cli.IntFlag{Name: flagHeight, Usage: "output height (default: input height)"},
	&cli.BoolFlag{Name: flagLinearAngle, Usage: "use theta = r instead of theta = atan(r)"},
	&cli.BoolFlag{Name: flagGuides, Usage: "draw vertical alignment guides"},
	&cli.StringFlag{Name: flagGuideColor, Value: "#00ff00", Usage: "guide `COLOR`"},
	&cli.StringFlag{Name: flagBorder, Value: "#000000", Usage: "fill `COLOR` for pixels outside the source"},
	&cli.Float64Flag{Name: flagBorderAlpha, Usage: "fill opacity in [0, 1]"},
}, distortionFlags()...)

var inspectFlags = append([]cli.Flag{
	&cli.IntFlag{Name: flagWidth, Value: 2992, Usage: "input width"},
	&cli.IntFlag{Name: flagHeight, Value: 2992, Usage: "input height"},
	&cli.Float64Flag{Name: flagFocal, Usage: "focal length in pixels (default: half the width)"},
	&cli.Float64Flag{Name: flagScale, Value: 0.4, Usage: "focal length scale for controlled mode"},
	&cli.IntFlag{Name: flagStride, Value: 32, Usage: "sample spacing of the shift summary, 0 skips it"},
}, distortionFlags()...)

var app = &cli.App{
	Name:            "flatten",
	Usage:           "correct fisheye lens distortion",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  generalFlagLogLevel,
			Value: "info",
			Usage: "log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  generalFlagLogFile,
			Usage: "also write JSON logs to the rotating `FILE`",
		},
	},
	Before: setupLogger,
	After:  closeLogFile,
	Commands: []*cli.Command{
		{
			Name:      "undistort",
			Usage:     "undistort a fisheye image",
			UsageText: "flatten undistort --in a.jpg --out b.png [--scale 0.4 ...]",
			Flags:     undistortFlags,
			Action:    UndistortAction,
		},
		{
			Name:  "dewarp",
			Usage: "render a panoramic view of a fisheye image",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
				&cli.StringFlag{Name: flagIn, Usage: "fisheye `IMAGE`", Required: true},
				&cli.StringFlag{Name: flagOut, Usage: "output `IMAGE`", Required: true},
			},
			Action: DewarpAction,
		},
		{
			Name:  "serve",
			Usage: "serve dewarped snapshots of an image, re-rendering when it changes",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
				&cli.StringFlag{Name: flagIn, Usage: "fisheye `IMAGE` standing in for the camera", Required: true},
				&cli.IntFlag{Name: flagPort, Usage: "HTTP port (overrides the config)"},
				&cli.StringFlag{Name: flagPrefix, Usage: "URL prefix of the snapshot endpoint (overrides the config)"},
				&cli.IntFlag{Name: flagRTSP, Usage: "RTSP port of the MJPEG stream, 0 disables it (overrides the config)"},
				&cli.IntFlag{Name: flagQuality, Value: 85, Usage: "JPEG quality"},
			},
			Action: ServeAction,
		},
		{
			Name:   "inspect",
			Usage:  "print the camera matrices and sample mappings of a lens",
			Flags:  inspectFlags,
			Action: InspectAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the config file",
			Action: SchemaAction,
		},
	},
}

// NewApp returns the flatten application writing to the given streams.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func setupLogger(c *cli.Context) error {
	level, err := logging.LevelFromString(c.String(generalFlagLogLevel))
	if err != nil {
		return errors.Wrap(err, "bad --log-level")
	}
	if c.Bool(generalFlagDebug) {
		level = logging.DEBUG
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}

	var logger logging.Logger
	if path := c.String(generalFlagLogFile); path != "" {
		var appender *logging.FileAppender
		logger, appender = logging.NewLoggerWithFile("flatten", level, path)
		c.App.Metadata[appenderKey] = appender
	} else {
		logger = logging.NewLogger("flatten")
		logger.SetLevel(level)
	}
	c.App.Metadata[loggerKey] = logger
	logging.ReplaceGlobal(logger)
	return nil
}

func closeLogFile(c *cli.Context) error {
	appender, ok := c.App.Metadata[appenderKey].(*logging.FileAppender)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, appenderKey)
	return appender.Close()
}

func loggerFrom(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.Global()
}

func distortionFromFlags(c *cli.Context) (transform.KannalaBrandt, error) {
	kb, err := transform.NewKannalaBrandt([]float64{
		c.Float64(flagK1), c.Float64(flagK2), c.Float64(flagK3), c.Float64(flagK4),
	})
	if err != nil {
		return transform.KannalaBrandt{}, err
	}
	return *kb, nil
}
