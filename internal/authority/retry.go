package authority

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryPolicy bounds network-level retries of a single request
type RetryPolicy struct {
	InitialDelay      time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	Multiplier        float64       `mapstructure:"multiplier" json:"multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay" json:"max_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts" json:"max_attempts"`
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout" json:"per_attempt_timeout"`
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:      500 * time.Millisecond,
		Multiplier:        2,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       4,
		PerAttemptTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Delay returns the wait before retry n (1-based: the wait after attempt n)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// TransportError is a failure below the authority's application protocol
type TransportError struct {
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport failure (HTTP %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// classifyTransport turns a client.Do failure into a TransportError.
// Caller cancellation ends the retry loop; anything else below HTTP is retried.
func classifyTransport(parent context.Context, err error) *TransportError {
	if parent.Err() != nil {
		return &TransportError{Cause: parent.Err()}
	}
	return &TransportError{Retryable: true, Cause: err}
}

// retryableStatus reports gateway-level statuses. A 5xx that carries an
// authority return code is an answer, not a transport failure.
func retryableStatus(status int, code string) bool {
	if code != "" {
		return false
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
