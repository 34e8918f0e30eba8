package resilience

import (
	"time"
)

// FromRetryConfig builds the platform retry policy from configured attempts
// and base backoff. Non-positive values keep the defaults. Delays double per
// attempt without jitter so successive waits never shrink.
func FromRetryConfig(maxAttempts, baseMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseMs > 0 {
		cfg.InitialBackoff = time.Duration(baseMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig builds a breaker config that logs transitions under
// service. A non-positive threshold returns nil: the breaker is disabled.
func FromCircuitConfig(service string, failureThreshold, resetTimeoutSecs int) *CircuitBreakerConfig {
	if failureThreshold <= 0 {
		return nil
	}
	return &CircuitBreakerConfig{
		FailureThreshold: failureThreshold,
		ResetTimeout:     time.Duration(resetTimeoutSecs) * time.Second,
		OnStateChange:    StateLogger(service),
	}
}
