package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  5,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// None performs exactly one attempt.
var None = Options{MaxAttempts: 1}

type IsRetryableFunc func(error) bool

// NotifyFunc is called before sleeping between two attempts.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// sanitize fills zero fields from Default; MaxAttempts <= 0 selects Default entirely.
func (o Options) sanitize() Options {
	if o.MaxAttempts <= 0 {
		return Default
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = Default.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = Default.MaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = Default.Multiplier
	}
	return o
}

// LogBackoff returns a NotifyFunc that records every backoff at warn level.
func LogBackoff(action, target string) NotifyFunc {
	return func(attempt int, err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("action", action).
			Str("target", target).
			Int("attempt", attempt).
			Dur("backoff_ms", wait).
			Msg("transient failure, retrying")
	}
}

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	return DoNotify(ctx, opts, isRetryable, nil, fn)
}

// DoNotify is Do with a hook invoked before every backoff sleep.
func DoNotify(ctx context.Context, opts Options, isRetryable IsRetryableFunc, notify NotifyFunc, fn func(context.Context) error) error {
	opts = opts.sanitize()
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	backoff := opts.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		sleep := backoff
		if opts.Jitter {
			// +/-20% jitter.
			delta := float64(backoff) * 0.2
			j := (rng.Float64()*2 - 1) * delta
			sleep = time.Duration(math.Max(0, float64(backoff)+j))
		}
		if sleep > opts.MaxDelay {
			sleep = opts.MaxDelay
		}
		if notify != nil {
			notify(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Next backoff with overflow guard and cap.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if backoff > opts.MaxDelay {
			backoff = opts.MaxDelay
		}
	}
}
