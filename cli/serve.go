package cli

import (
	"context"
	"fmt"
	"image"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/flatten/config"
	"go.viam.com/flatten/internal/capture"
	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/dewarp"
	"go.viam.com/flatten/rimage/history"
	"go.viam.com/flatten/utils"
	"go.viam.com/flatten/web"
	"go.viam.com/flatten/web/stream"
)

// frameFile holds the most recently loaded input image.
type frameFile struct {
	path string

	mu  sync.RWMutex
	img image.Image
}

func (f *frameFile) load() error {
	img, err := openImage(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.img = img
	f.mu.Unlock()
	return nil
}

func (f *frameFile) frame(ctx context.Context) (image.Image, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.img == nil {
		return nil, errors.New("no frame loaded")
	}
	return f.img, nil
}

// reloader re-reads the input image and the config file after they change on disk.
type reloader struct {
	cfgPath   string
	overrides func(cfg *config.Config)
	src       *frameFile
	dewarper  *dewarp.Dewarper
	loop      *capture.Loop
	logger    logging.Logger

	mu  sync.Mutex
	cfg *config.Config
}

func (r *reloader) reload() {
	if err := r.src.load(); err != nil {
		r.logger.Warnw("cannot reload input", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cfg
	if r.cfgPath != "" {
		read, err := config.Read(r.cfgPath)
		if err != nil {
			r.logger.Warnw("cannot reload config, keeping the previous one", "error", err)
		} else {
			r.overrides(read)
			next = read
		}
	}

	nextDewarp, err := next.DewarpConfig()
	if err == nil {
		err = r.dewarper.UpdateConfig(nextDewarp)
	}
	if err != nil {
		r.logger.Warnw("cannot apply config", "error", err)
		return
	}
	if err := applyGuides(r.loop, next); err != nil {
		r.logger.Warnw("cannot apply guides", "error", err)
	}
	if err := r.loop.SetPeriod(next.CapturePeriod()); err != nil {
		r.logger.Warnw("cannot apply framerate", "error", err)
	}
	if stale := restartOnlyChanges(r.cfg, next); len(stale) > 0 {
		r.logger.Warnw("settings take effect after a restart", "settings", stale)
	}
	r.cfg = next
	r.logger.Infow("reloaded", "input", r.src.path, "projection", nextDewarp.Projection, "framerate", next.Framerate)
}

// restartOnlyChanges names the settings that differ between prev and next but are bound to
// listeners opened at startup.
func restartOnlyChanges(prev, next *config.Config) []string {
	var stale []string
	if prev.HTTPPort != next.HTTPPort {
		stale = append(stale, "http_port")
	}
	if prev.HTTPPrefix != next.HTTPPrefix {
		stale = append(stale, "http_prefix")
	}
	if prev.RTSPPort != next.RTSPPort {
		stale = append(stale, "rtsp_port")
	}
	return stale
}

// ServeAction renders the input image on a capture period and serves the recent frames. The
// image and the config are reloaded when their files change.
func ServeAction(c *cli.Context) error {
	logger := loggerFrom(c)
	cfgPath := c.String(flagConfig)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	overrides := func(dst *config.Config) {
		if c.IsSet(flagPort) {
			dst.HTTPPort = c.Int(flagPort)
		}
		if c.IsSet(flagPrefix) {
			dst.HTTPPrefix = c.String(flagPrefix)
		}
		if c.IsSet(flagRTSP) {
			dst.RTSPPort = c.Int(flagRTSP)
		}
	}
	overrides(cfg)
	dc, err := cfg.DewarpConfig()
	if err != nil {
		return err
	}

	src := &frameFile{path: c.String(flagIn)}
	if err := src.load(); err != nil {
		return err
	}

	d := dewarp.NewDewarper(logger.Sublogger("dewarp"))
	if err := d.Init(dc); err != nil {
		return err
	}

	buffer := history.NewBuffer()
	loop := &capture.Loop{
		Period:   cfg.CapturePeriod(),
		Source:   src.frame,
		Dewarper: d,
		Buffer:   buffer,
		Quality:  c.Int(flagQuality),
		Logger:   logger.Sublogger("capture"),
	}
	if err := applyGuides(loop, cfg); err != nil {
		return err
	}

	var workers []utils.SimpleFunc
	if cfg.RTSPPort > 0 {
		rtsp, err := stream.NewServer(fmt.Sprintf(":%d", cfg.RTSPPort), stream.DefaultMountPoint, logger.Sublogger("rtsp"))
		if err != nil {
			return err
		}
		if err := rtsp.Start(); err != nil {
			return err
		}
		defer rtsp.Close()
		loop.Publish = rtsp.WriteFrame
		workers = append(workers, rtsp.Run)
	}

	if err := loop.CaptureOnce(c.Context); err != nil {
		logger.Warnw("first capture failed", "error", err)
	}

	r := &reloader{
		cfgPath:   cfgPath,
		overrides: overrides,
		src:       src,
		dewarper:  d,
		loop:      loop,
		logger:    logger,
		cfg:       cfg,
	}
	watched := []string{src.path}
	if cfgPath != "" {
		watched = append(watched, cfgPath)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		return errors.Wrap(err, "cannot listen")
	}
	server := web.NewServer(buffer, cfg.HTTPPrefix, logger.Sublogger("web"))

	workers = append(workers,
		func(ctx context.Context) error { return server.Serve(ctx, lis) },
		loop.Run,
		func(ctx context.Context) error {
			return capture.Watch(ctx, watched, capture.DefaultSettleTime, r.reload, logger.Sublogger("watch"))
		},
	)
	_, runErr := utils.RunInParallel(c.Context, workers)
	return runErr
}

func applyGuides(loop *capture.Loop, cfg *config.Config) error {
	if !cfg.Guides {
		loop.SetGuides(nil)
		return nil
	}
	guide, err := cfg.Guide()
	if err != nil {
		return err
	}
	loop.SetGuides(&capture.Guides{Color: guide, Thickness: cfg.GuideThickness})
	return nil
}
