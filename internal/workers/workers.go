package workers

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// OverrideEnv pins the worker count regardless of GOMAXPROCS.
const OverrideEnv = "CAPTURE_IMPORT_WORKERS"

// Count returns the number of workers for a task type, respecting container
// CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks (image decoding, scaling)
//   - 2.0 for I/O-bound tasks
//
// limit caps the result; 0 means no cap. OverrideEnv takes precedence over
// the calculation but is still capped by limit.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(OverrideEnv); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// Each calls fn for every index in [0, n) using at most workers goroutines.
// The first error cancels the context passed to the remaining calls and is
// returned once all started calls finish.
func Each(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
