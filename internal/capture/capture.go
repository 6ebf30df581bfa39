// Package capture feeds dewarped frames into the frame history on a fixed period.
package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/dewarp"
	"go.viam.com/flatten/rimage/history"
	"go.viam.com/flatten/rimage/transform"
)

// DefaultJPEGQuality is the quality frames are encoded with when none is set.
const DefaultJPEGQuality = 85

// FrameFunc returns the next source frame.
type FrameFunc func(ctx context.Context) (image.Image, error)

// Guides describes the alignment guides drawn on stored frames.
type Guides struct {
	Color     color.Color
	Thickness float64
}

// Loop captures, dewarps, encodes and stores one frame per period.
type Loop struct {
	Clock    clock.Clock
	Period   time.Duration
	Source   FrameFunc
	Dewarper *dewarp.Dewarper
	Buffer   *history.Buffer
	Quality  int
	Logger   logging.Logger
	// Publish, when set, receives every stored JPEG frame.
	Publish func(jpeg []byte) error

	mu       sync.Mutex
	guides   *Guides
	failures int
	retick   chan struct{}
}

// SetGuides changes the guides drawn on later frames. nil disables them.
func (l *Loop) SetGuides(g *Guides) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guides = g
}

// SetPeriod changes the capture period. A running loop picks it up before its next frame.
func (l *Loop) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return errors.Errorf("capture period must be positive, got %s", period)
	}
	l.mu.Lock()
	changed := l.Period != period
	l.Period = period
	retick := l.retickLocked()
	l.mu.Unlock()
	if changed {
		select {
		case retick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (l *Loop) retickLocked() chan struct{} {
	if l.retick == nil {
		l.retick = make(chan struct{}, 1)
	}
	return l.retick
}

func (l *Loop) period() (time.Duration, chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Period, l.retickLocked()
}

// Run captures until ctx is done. Failed captures are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	period, retick := l.period()
	if period <= 0 {
		return errors.Errorf("capture period must be positive, got %s", period)
	}
	clk := l.Clock
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(period)
	defer ticker.Stop()

	l.Logger.Infow("capture started", "period", period)
	for {
		select {
		case <-ctx.Done():
			l.Logger.Infow("capture stopped")
			return nil
		case <-retick:
			period, _ = l.period()
			ticker.Reset(period)
			l.Logger.Infow("capture period changed", "period", period)
			continue
		case <-ticker.C:
		}
		if err := l.CaptureOnce(ctx); err != nil {
			l.mu.Lock()
			l.failures++
			l.mu.Unlock()
			l.Logger.Warnw("capture failed", "error", err)
		}
	}
}

// Failures returns how many captures have failed so far.
func (l *Loop) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// CaptureOnce pushes a single frame into the history.
func (l *Loop) CaptureOnce(ctx context.Context) error {
	src, err := l.Source(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read frame")
	}
	out, err := l.Dewarper.Process(ctx, src)
	if err != nil {
		return err
	}
	l.mu.Lock()
	guides := l.guides
	l.mu.Unlock()
	if guides != nil {
		out = transform.DrawGuides(out, guides.Color, guides.Thickness)
	}
	data, err := EncodeJPEG(out, l.Quality)
	if err != nil {
		return err
	}
	l.Buffer.Push(data)
	l.Logger.CDebugw(ctx, "frame stored", "size", units.HumanSize(float64(len(data))), "held", l.Buffer.Len())
	if l.Publish != nil {
		if err := l.Publish(data); err != nil {
			return errors.Wrap(err, "cannot publish frame")
		}
	}
	return nil
}

// EncodeJPEG encodes img as a JPEG. A quality of 0 selects DefaultJPEGQuality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality == 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "cannot encode jpeg")
	}
	return buf.Bytes(), nil
}
