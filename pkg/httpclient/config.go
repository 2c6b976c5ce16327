package httpclient

import (
	"time"
)

// CircuitBreakerProfileConfig holds the tunables for a single circuit
// breaker: how many consecutive failures trip it, how long it stays open,
// and how many probe requests a half-open circuit allows through. A
// session's Fetcher owns exactly one circuit breaker (its upstream
// playlist/segment server), so this config is not shared across sessions -
// each is free to run its own failure threshold and reset timeout.
type CircuitBreakerProfileConfig struct {
	// FailureThreshold is the number of failures before the circuit opens.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// ResetTimeout is how long the circuit stays open before transitioning to half-open.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`

	// HalfOpenMax is the max requests allowed in half-open state before deciding
	// whether to close or re-open the circuit.
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max"`

	// AcceptableStatusCodes is stored with the profile but read by neither
	// CircuitBreaker nor Client; Client decides success from
	// Config.AcceptableStatusCodes.
	AcceptableStatusCodes *StatusCodeSet `json:"acceptable_status_codes,omitempty" yaml:"acceptable_status_codes,omitempty"`
}

// DefaultProfileConfig returns a CircuitBreakerProfileConfig with sensible defaults.
func DefaultProfileConfig() CircuitBreakerProfileConfig {
	return CircuitBreakerProfileConfig{
		FailureThreshold:      DefaultCircuitThreshold,
		ResetTimeout:          DefaultCircuitTimeout,
		HalfOpenMax:           DefaultCircuitHalfOpenMax,
		AcceptableStatusCodes: nil,
	}
}
