package feed

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/matryer/try.v1"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/utils/log"
)

// ExhaustedError reports that an operation kept failing with transient
// errors until the retry budget ran out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retrier re-runs an operation on transient provider errors, waiting
// wait × attempt number between attempts so that consecutive failures
// back off linearly. Non-transient errors abort immediately.
type Retrier struct {
	maxAttempts int
	wait        time.Duration
	sleep       func(time.Duration)
}

func NewRetrier(maxAttempts int, wait time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if try.MaxRetries < maxAttempts {
		try.MaxRetries = maxAttempts
	}

	return &Retrier{
		maxAttempts: maxAttempts,
		wait:        wait,
		sleep:       time.Sleep,
	}
}

// Do runs op until it succeeds, fails with a non-transient error, or
// spends the attempt budget. It returns nil on success, the original
// error when it is not worth retrying, and an *ExhaustedError once the
// budget is spent.
func (r *Retrier) Do(op func() error) error {
	err := try.Do(func(attempt int) (bool, error) {
		opErr := op()
		if opErr == nil || !IsTransient(opErr) {
			return false, opErr
		}
		if attempt >= r.maxAttempts {
			return false, opErr
		}

		delay := time.Duration(attempt) * r.wait
		log.Warn("transient error (attempt %d/%d), retrying in %v: %v",
			attempt, r.maxAttempts, delay, opErr)
		r.sleep(delay)
		return true, opErr
	})
	if err == nil || !IsTransient(err) {
		return err
	}

	return &ExhaustedError{Attempts: r.maxAttempts, Err: err}
}

// IsTransient reports whether err looks like a temporary network or
// provider-side failure worth retrying: connectivity errors, dropped
// connections, rate limiting and server faults. Anything else (bad
// requests, permanent rejections, decode failures) fails the operation
// at once.
func IsTransient(err error) bool {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
