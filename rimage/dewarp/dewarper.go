package dewarp

import (
	"context"
	"image"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/transform"
	"go.viam.com/flatten/utils"
)

// ErrNotInitialized is returned by Process before Init has succeeded.
var ErrNotInitialized = errors.New("dewarper not initialized")

// Dewarper owns a lookup table for one configuration and applies it to frames.
// It is safe for concurrent use.
type Dewarper struct {
	mu          sync.Mutex
	cfg         Config
	table       *transform.CoordinateMap
	initialized bool
	logger      logging.Logger
	clock       clock.Clock
}

// NewDewarper returns an uninitialized dewarper.
func NewDewarper(logger logging.Logger) *Dewarper {
	return &Dewarper{logger: logger, clock: clock.New()}
}

// Init validates the config and builds its lookup table. A zero input size defers the build
// until the first frame arrives.
func (d *Dewarper) Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rebuild(context.Background(), cfg); err != nil {
		return err
	}
	d.initialized = true
	d.logger.Infow("dewarper initialized",
		"input", image.Pt(cfg.InputWidth, cfg.InputHeight),
		"output", image.Pt(cfg.OutputWidth, cfg.OutputHeight),
		"projection", cfg.Projection)
	return nil
}

// UpdateConfig swaps in a new config and rebuilds the table. On error the previous
// configuration stays in effect.
func (d *Dewarper) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	if err := d.rebuild(context.Background(), cfg); err != nil {
		return err
	}
	d.logger.Infow("dewarper config updated", "projection", cfg.Projection)
	return nil
}

// Config returns the active configuration.
func (d *Dewarper) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Map returns the active lookup table, or nil when it has not been built yet.
func (d *Dewarper) Map() *transform.CoordinateMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table
}

func (d *Dewarper) rebuild(ctx context.Context, cfg Config) error {
	ctx, span := trace.StartSpan(ctx, "flatten::dewarp::rebuild")
	defer span.End()

	if cfg.InputWidth == 0 || cfg.InputHeight == 0 {
		d.cfg = cfg
		d.table = nil
		return nil
	}
	stopSlowLog := utils.SlowLogger(ctx, d.clock, "still building lookup table", d.logger, "projection", cfg.Projection)
	table, err := buildMap(&cfg, false)
	stopSlowLog()
	if err != nil {
		return err
	}
	d.logger.CDebugw(ctx, "built lookup table",
		"projection", cfg.Projection,
		"size", table.Bounds().Size(),
		"mode", cfg.Mode.String(),
		"angle_model", cfg.Angle.String(),
		"distortion", cfg.Distortion.Parameters())
	d.cfg = cfg
	d.table = table
	return nil
}

// Process maps one frame through the lookup table. A frame whose size differs from the
// configured input size is rejected unless the config left the input size unset, in which
// case the table is built for the frame's size.
func (d *Dewarper) Process(ctx context.Context, img image.Image) (*image.RGBA, error) {
	ctx, span := trace.StartSpan(ctx, "flatten::dewarp::Process")
	defer span.End()

	if img == nil {
		return nil, transform.NewConfigError("image", "source image is nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, ErrNotInitialized
	}

	size := img.Bounds().Size()
	if d.table == nil {
		cfg := d.cfg
		cfg.InputWidth, cfg.InputHeight = size.X, size.Y
		if err := d.rebuild(ctx, cfg); err != nil {
			return nil, err
		}
		d.logger.CDebugw(ctx, "input size taken from first frame", "size", size)
	} else if size.X != d.cfg.InputWidth || size.Y != d.cfg.InputHeight {
		return nil, errors.Errorf("frame is %dx%d, dewarper expects %dx%d",
			size.X, size.Y, d.cfg.InputWidth, d.cfg.InputHeight)
	}

	return transform.Resample(img, d.table, d.cfg.Border), nil
}
