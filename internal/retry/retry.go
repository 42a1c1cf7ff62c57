// Package retry generalizes the bounded-retry transactor pattern from
// webpa-common's xhttp.RetryTransactor into a collaborator-agnostic helper,
// used when a Device Manager or Identity Oracle implementation is backed by
// a flaky network call.
package retry

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Temporary is the interface errors satisfy when they can tell a caller
// whether retrying is worthwhile. Several standard library error types
// (net.DNSError among them) implement it implicitly.
type Temporary interface {
	Temporary() bool
}

// ShouldRetry is a predicate for whether an error is worth retrying.
type ShouldRetry func(error) bool

// DefaultShouldRetry retries only errors that self-report as Temporary.
func DefaultShouldRetry(err error) bool {
	if t, ok := err.(Temporary); ok {
		return t.Temporary()
	}
	return false
}

// Options configures Do.
type Options struct {
	// Logger receives one warning per failed attempt that is retried and one
	// error when Do returns a non-nil error. Defaults to a no-op logger.
	Logger log.Logger

	// Attempts is the total number of tries, including the first. Values
	// less than 1 are treated as 1 (no retries).
	Attempts int

	// ShouldRetry decides whether a given error is worth another attempt.
	// Defaults to DefaultShouldRetry.
	ShouldRetry ShouldRetry
}

// Do calls fn up to o.Attempts times, stopping as soon as fn succeeds or
// returns an error o.ShouldRetry rejects. It never fabricates success: the
// final call's error (possibly nil) is returned verbatim.
func Do(ctx context.Context, o Options, fn func(context.Context) error) error {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	shouldRetry := o.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	attempts := o.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			break
		}
		level.Warn(logger).Log("msg", "retrying operation", "attempt", attempt, "err", err)
	}

	if err != nil {
		level.Error(logger).Log("msg", "operation failed after retries", "attempts", attempts, "err", err)
	}
	return err
}
