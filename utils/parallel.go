package utils

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the number of row bands image-sized work is split into. Tests lower or raise
// it to exercise both the sequential and the banded paths.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor < 1 {
		ParallelFactor = 1
	}
}

// RowBand is a half-open range of rows [Start, End).
type RowBand struct {
	Start, End int
}

// RowBands splits [0, rows) into at most n contiguous bands. Earlier bands take the remainder
// one row at a time, so band sizes differ by at most one.
func RowBands(rows, n int) []RowBand {
	if rows <= 0 {
		return nil
	}
	if n > rows {
		n = rows
	}
	if n < 1 {
		n = 1
	}
	size, extra := rows/n, rows%n
	bands := make([]RowBand, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		bands = append(bands, RowBand{Start: start, End: end})
		start = end
	}
	return bands
}

// ParallelForEachRow runs fn once per band of [0, rows), each band on its own goroutine.
// Bands are disjoint, so fn may write its rows without locking. With one band fn runs on the
// calling goroutine.
func ParallelForEachRow(rows int, fn func(start, end int)) {
	bands := RowBands(rows, ParallelFactor)
	if len(bands) == 1 {
		fn(bands[0].Start, bands[0].End)
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(bands))
	for _, b := range bands {
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			fn(b.Start, b.End)
		})
	}
	wg.Wait()
}

// SimpleFunc is a long-running worker for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs every worker on a shared context and cancels it as soon as one returns an
// error or panics. Cancellation errors caused by that are dropped from the result unless nothing
// else failed. It returns once all workers are done.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result error
	)
	fail := func(err error) {
		mu.Lock()
		if result == nil || !errors.Is(err, context.Canceled) {
			result = multierr.Append(result, err)
		}
		mu.Unlock()
		cancel()
	}

	wg.Add(len(fs))
	for _, f := range fs {
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					fail(errors.Errorf("worker panicked: %v", p))
				}
			}()
			if err := f(ctx); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()
	return time.Since(start), result
}
