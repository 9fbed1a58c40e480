// Package retry runs an operation repeatedly until it succeeds, with
// exponential backoff between attempts. Alert deliveries use it so a
// briefly unreachable endpoint does not cost a notification.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks a failure that more attempts cannot fix, such as
// an endpoint rejecting the payload outright.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do gives up immediately instead of retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn up to maxAttempts times, sleeping between attempts.
// The first wait is baseDelay and each later wait doubles, spread by
// +-25% jitter so concurrent deliveries to one endpoint fan out.
//
// Do returns nil as soon as fn succeeds. It returns the wrapped error
// without another attempt when fn reports a permanent failure, ctx.Err()
// when the context ends during a wait, and fn's last error once all
// attempts are spent. maxAttempts below 1 is treated as 1.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	wait := baseDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(wait)):
		}
		wait *= 2
	}
}

// jittered maps d onto a uniform value in [0.75d, 1.25d).
func jittered(d time.Duration) time.Duration {
	span := d / 2
	if span <= 0 {
		return d
	}
	return d - span/2 + randomBelow(span)
}

// randomBelow returns a uniform duration in [0, n) from crypto/rand.
func randomBelow(n time.Duration) time.Duration {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(n)) //nolint:gosec // result < n, fits int64
}
