package httpsession

import (
	"context"
	"errors"
	"net"
	"time"

	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/logging"
)

// RetryPolicy bounds RetryOnTimeout.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	// Backend and Op label the TransientError returned on exhaustion.
	Backend string
	Op      string
	Logger  logging.Logger
}

// IsTimeout reports whether err is a network read timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryOnTimeout runs fn until it succeeds, fails with something other
// than a timeout, or has timed out p.Attempts times. Exhaustion returns a
// *fetcherror.TransientError wrapping the last timeout. Cancellation of
// ctx itself is never retried.
func RetryOnTimeout(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := logging.OrDefault(p.Logger)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTimeout(err) {
			return err
		}
		logger.Warn("Request timed out",
			logging.F(logging.FieldBackend, p.Backend),
			logging.F(logging.FieldOperation, p.Op),
			logging.F(logging.FieldAttempt, attempt))
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &fetcherror.TransientError{Backend: p.Backend, Op: p.Op, Attempts: attempts, Err: err}
}
