package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

// Policy controls Do. Zero values fall back to the defaults applied in Do.
type Policy struct {
	MaxAttempts int           // e.g. 3
	BaseDelay   time.Duration // e.g. 250ms
	MaxDelay    time.Duration // e.g. 5s
	Jitter      time.Duration // e.g. 100ms (<= BaseDelay recommended)

	// Classify decides whether an error is retryable.
	// If nil, every non-nil error is retried.
	Classify func(error) Class

	// Hint lets the caller stretch the next wait, e.g. from a Retry-After
	// header. The result is still capped at MaxDelay.
	Hint func(error) time.Duration

	// OnRetry is an optional hook for logging.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs fn until it succeeds, returns a Fatal error, the context ends
// or MaxAttempts is reached. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}

	classify := p.Classify
	if classify == nil {
		classify = func(err error) Class { return Retryable }
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Fatal {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.backoff(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retry: exhausted with no error (unexpected)")
	}
	return lastErr
}

// backoff is exponential with cap and jitter
func (p Policy) backoff(attempt int, err error) time.Duration {
	wait := p.BaseDelay << (attempt - 1)
	if wait <= 0 || wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	if p.Hint != nil {
		if hint := p.Hint(err); hint > wait {
			wait = hint
		}
	}
	if p.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}
