package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/flatten/logging"
)

// SlowLogger warns with msg after two seconds and then with a growing interval until the
// returned stop function is called or ctx is done.
func SlowLogger(ctx context.Context, clk clock.Clock, msg string, logger logging.Logger, keysAndValues ...interface{}) func() {
	if clk == nil {
		clk = clock.New()
	}
	slowTicker := clk.Ticker(2 * time.Second)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := clk.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-slowTicker.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				logger.Warnw(msg, append(keysAndValues, "time_elapsed", elapsed)...)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() {
		slowTicker.Stop()
		cancel()
		<-done
	}
}
