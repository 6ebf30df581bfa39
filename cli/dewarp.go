package cli

import (
	"github.com/urfave/cli/v2"

	"go.viam.com/flatten/config"
	"go.viam.com/flatten/rimage/dewarp"
	"go.viam.com/flatten/rimage/transform"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Read(path)
}

// SchemaAction prints the JSON schema of the config file.
func SchemaAction(c *cli.Context) error {
	data, err := config.SchemaJSON()
	if err != nil {
		return err
	}
	printf(c, "%s\n", data)
	return nil
}

// DewarpAction renders one image through the configured projection.
func DewarpAction(c *cli.Context) error {
	logger := loggerFrom(c)
	cfg, err := loadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	dc, err := cfg.DewarpConfig()
	if err != nil {
		return err
	}

	src, err := openImage(c.String(flagIn))
	if err != nil {
		return err
	}

	d := dewarp.NewDewarper(logger.Sublogger("dewarp"))
	if err := d.Init(dc); err != nil {
		return err
	}
	out, err := d.Process(c.Context, src)
	if err != nil {
		return err
	}
	if cfg.Guides {
		guide, err := cfg.Guide()
		if err != nil {
			return err
		}
		out = transform.DrawGuides(out, guide, cfg.GuideThickness)
	}
	if err := saveImage(out, c.String(flagOut)); err != nil {
		return err
	}
	logger.Infow("wrote dewarped image", "path", c.String(flagOut), "projection", dc.Projection)
	return nil
}
