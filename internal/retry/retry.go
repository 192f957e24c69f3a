// Package retry provides a bounded exponential-backoff executor for fallible
// remote calls. The executor does not classify errors; callers decide what is
// worth retrying before handing work in (see the assistant adapter's typed
// Retryable/Fatal split).
package retry

import (
	"context"
	"time"
)

// Options controls one Execute run. Zero values take the defaults below.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64
	// OnRetry is called before each wait with the error that triggered the
	// retry and the 1-based attempt number that failed. It is not called for
	// the final failed attempt; that error is returned directly.
	OnRetry func(err error, attempt int)
	// Sleep is injectable for deterministic tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = 2
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Execute runs fn up to MaxRetries+1 times, waiting between attempts with
// exponential backoff capped at MaxDelay. The last error is returned when
// every attempt fails. Context cancellation interrupts the wait and returns
// the context error.
func Execute[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	delay := opts.InitialDelay

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == opts.MaxRetries {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt+1)
		}
		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * opts.BackoffFactor)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
