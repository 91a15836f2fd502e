package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Circuit breaker errors
	ErrCircuitOpen  = errors.New("circuit breaker: circuit is open")
	ErrUnknownState = errors.New("circuit breaker: unknown state")

	// Retry errors
	ErrNonRetryable = errors.New("retry: error is not retryable")
)

// CircuitBreakerError is returned when the breaker refuses a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Op               string
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker %s open: %s blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Op, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: %s limited", e.Name, e.Op)
	default:
		return fmt.Sprintf("circuit breaker %s error: %s in state %v", e.Name, e.Op, e.State)
	}
}

// Is lets errors.Is(err, ErrCircuitOpen) match a refused call
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryError is returned by Retry when the policy gives up
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}
