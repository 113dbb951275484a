package models

import (
	"fmt"
	"time"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
)

// ============================================================================
// Retry Strategy
// ============================================================================

// RetryStrategy determines how the delay before the next attempt is computed.
type RetryStrategy string

const (
	RetryStrategyNone        RetryStrategy = "none"
	RetryStrategyFixed       RetryStrategy = "fixed"
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyExponential RetryStrategy = "exponential"
)

// ValidRetryStrategies contains all valid strategy values.
var ValidRetryStrategies = []RetryStrategy{
	RetryStrategyNone,
	RetryStrategyFixed,
	RetryStrategyLinear,
	RetryStrategyExponential,
}

// IsValidRetryStrategy checks if the given strategy is valid.
func IsValidRetryStrategy(s RetryStrategy) bool {
	for _, v := range ValidRetryStrategies {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Retry Policy
// ============================================================================

// RetryPolicy is an immutable value object describing retry behavior for a
// task. Delays are whole seconds. Stored as JSONB alongside the task row.
type RetryPolicy struct {
	Enabled      bool          `json:"enabled"`
	MaxRetries   int           `json:"max_retries"`
	Strategy     RetryStrategy `json:"strategy"`
	InitialDelay int           `json:"initial_delay"`
	MaxDelay     int           `json:"max_delay"`
	BackoffBase  int           `json:"backoff_base"`
}

// DefaultRetryPolicy returns the default policy: exponential backoff,
// capped at five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:      true,
		MaxRetries:   DefaultMaxRetries,
		Strategy:     RetryStrategyExponential,
		InitialDelay: DefaultRetryDelay,
		MaxDelay:     MaxExponentialBackoff,
		BackoffBase:  ExponentialBackoffBase,
	}
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:      false,
		MaxRetries:   0,
		Strategy:     RetryStrategyNone,
		InitialDelay: 0,
		MaxDelay:     0,
		BackoffBase:  1,
	}
}

// FixedDelayPolicy returns a policy retrying up to maxRetries times with a
// constant delay between attempts.
func FixedDelayPolicy(maxRetries, delaySeconds int) RetryPolicy {
	return RetryPolicy{
		Enabled:      true,
		MaxRetries:   maxRetries,
		Strategy:     RetryStrategyFixed,
		InitialDelay: delaySeconds,
		MaxDelay:     delaySeconds,
		BackoffBase:  1,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", apperrors.ErrValidation)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial_delay must be >= 0", apperrors.ErrValidation)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("%w: max_delay must be >= initial_delay", apperrors.ErrValidation)
	}
	if p.BackoffBase < 1 {
		return fmt.Errorf("%w: backoff_base must be >= 1", apperrors.ErrValidation)
	}
	if !IsValidRetryStrategy(p.Strategy) {
		return fmt.Errorf("%w: unknown retry strategy %q", apperrors.ErrValidation, p.Strategy)
	}
	return nil
}

// ShouldRetry reports whether another attempt is allowed after the given
// 0-indexed attempt.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return p.Enabled && attempt < p.MaxRetries
}

// CalculateDelay returns the delay before the retry following the given
// 0-indexed attempt. Returns 0 when the policy is disabled, the strategy is
// none, or the attempt budget is exhausted. Delays are monotone
// non-decreasing for linear and exponential strategies, capped at MaxDelay.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if !p.Enabled || attempt < 0 || attempt >= p.MaxRetries {
		return 0
	}

	var seconds int
	switch p.Strategy {
	case RetryStrategyNone:
		return 0
	case RetryStrategyFixed:
		seconds = p.InitialDelay
	case RetryStrategyLinear:
		seconds = p.InitialDelay * (attempt + 1)
		if seconds > p.MaxDelay {
			seconds = p.MaxDelay
		}
	case RetryStrategyExponential:
		seconds = p.InitialDelay
		for i := 0; i < attempt; i++ {
			seconds *= p.BackoffBase
			if seconds >= p.MaxDelay {
				seconds = p.MaxDelay
				break
			}
		}
		if seconds > p.MaxDelay {
			seconds = p.MaxDelay
		}
	default:
		seconds = p.InitialDelay
	}

	return time.Duration(seconds) * time.Second
}
