package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for fire-and-forget work.
//
// Example:
//
//	SafeGo(context.Background(), logger, 2*time.Minute, "slow tier", func(ctx context.Context) error {
//	    runner.RunSlow(ctx)
//	    return nil
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		if err := run(parentCtx, timeout, fn); err != nil {
			// Caller can decide if this is critical or not; we only log
			logger.WithField("task", taskName).WithError(err).Error("Background task failed")
		}
	}()
}

// Batch processes items concurrently on at most workers goroutines, each call
// bounded by timeout. The returned slice is parallel to items: errs[i] is the
// outcome of fn(items[i]). A panic in fn becomes that item's error. Items not
// started before ctx is done get ctx.Err().
//
// Example:
//
//	errs := Batch(ctx, tenants, 8, 30*time.Second, func(ctx context.Context, tenant string) error {
//	    return refresh(ctx, tenant)
//	})
//	for i, err := range errs {
//	    if err != nil {
//	        log.Printf("tenant %s failed: %v", tenants[i], err)
//	    }
//	}
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				item := items[i]
				errs[i] = run(ctx, timeout, func(ctx context.Context) error {
					return fn(ctx, item)
				})
			}
		}()
	}

feed:
	for i := range items {
		select {
		case work <- i:
		case <-ctx.Done():
			// workers never see indexes from i on
			for j := i; j < len(items); j++ {
				errs[j] = ctx.Err()
			}
			break feed
		}
	}
	close(work)
	wg.Wait()

	return errs
}

// run calls fn under a timeout and converts a panic into an error
func run(parent context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = observability.PanicError(r)
		}
	}()

	return fn(ctx)
}
