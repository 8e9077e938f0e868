package portal

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"forecast-sender/internal/observability/metrics"
)

const (
	defaultMaxAttempts   = 3
	defaultBackoffFactor = 2.0
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy retries transport failures with exponential backoff. It is shared by the
// token and submission calls; login never goes through it.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
	Sleep         SleepFunc
	Logger        zerolog.Logger
}

// DefaultRetryPolicy returns three attempts with factor 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   defaultMaxAttempts,
		BackoffFactor: defaultBackoffFactor,
		Sleep:         sleepContext,
		Logger:        zerolog.Nop(),
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out. The
// last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var stop *permanentError
		if errors.As(err, &stop) {
			return stop.err
		}
		var transport *TransportError
		if !errors.As(err, &transport) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Wait(transport, attempt)
		metrics.IncRetry(op, retryReason(transport))
		p.Logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("wait", wait).
			Msg("retrying")
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

// permanentError stops the retry loop even when it wraps a transport failure.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// Wait returns the delay before the attempt following a failed attempt (1-based).
func (p RetryPolicy) Wait(err *TransportError, attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = defaultBackoffFactor
	}
	if err != nil && err.StatusCode == http.StatusTooManyRequests {
		if !err.HasRetryAfter {
			return seconds(math.Pow(factor, float64(attempt)) * 2)
		}
		if d, ok := retryAfterSeconds(err.RetryAfter); ok {
			return d
		}
		return seconds(math.Pow(factor, float64(attempt)))
	}
	return seconds(math.Pow(factor, float64(attempt-1)))
}

func retryReason(err *TransportError) string {
	switch {
	case err.StatusCode != 0:
		return strconv.Itoa(err.StatusCode)
	case err.Timeout:
		return "timeout"
	default:
		return "connection"
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
