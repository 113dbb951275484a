package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default is valid", DefaultRetryPolicy(), false},
		{"no retry is valid", NoRetryPolicy(), false},
		{"negative max retries", RetryPolicy{Strategy: RetryStrategyFixed, MaxRetries: -1, BackoffBase: 1}, true},
		{"negative initial delay", RetryPolicy{Strategy: RetryStrategyFixed, InitialDelay: -1, BackoffBase: 1}, true},
		{"max delay below initial", RetryPolicy{Strategy: RetryStrategyFixed, InitialDelay: 10, MaxDelay: 5, BackoffBase: 1}, true},
		{"backoff base below one", RetryPolicy{Strategy: RetryStrategyExponential, BackoffBase: 0}, true},
		{"unknown strategy", RetryPolicy{Strategy: "quadratic", BackoffBase: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCalculateDelayStrategies(t *testing.T) {
	t.Run("none returns zero", func(t *testing.T) {
		p := RetryPolicy{Enabled: true, MaxRetries: 3, Strategy: RetryStrategyNone, InitialDelay: 5, MaxDelay: 10, BackoffBase: 1}
		assert.Equal(t, time.Duration(0), p.CalculateDelay(0))
	})

	t.Run("fixed returns initial delay", func(t *testing.T) {
		p := FixedDelayPolicy(3, 7)
		for attempt := 0; attempt < 3; attempt++ {
			assert.Equal(t, 7*time.Second, p.CalculateDelay(attempt))
		}
	})

	t.Run("linear grows and caps", func(t *testing.T) {
		p := RetryPolicy{Enabled: true, MaxRetries: 5, Strategy: RetryStrategyLinear, InitialDelay: 2, MaxDelay: 7, BackoffBase: 1}
		assert.Equal(t, 2*time.Second, p.CalculateDelay(0))
		assert.Equal(t, 4*time.Second, p.CalculateDelay(1))
		assert.Equal(t, 6*time.Second, p.CalculateDelay(2))
		assert.Equal(t, 7*time.Second, p.CalculateDelay(3))
	})

	t.Run("exponential doubles and caps", func(t *testing.T) {
		p := RetryPolicy{Enabled: true, MaxRetries: 10, Strategy: RetryStrategyExponential, InitialDelay: 1, MaxDelay: 300, BackoffBase: 2}
		assert.Equal(t, 1*time.Second, p.CalculateDelay(0))
		assert.Equal(t, 2*time.Second, p.CalculateDelay(1))
		assert.Equal(t, 4*time.Second, p.CalculateDelay(2))
		assert.Equal(t, 256*time.Second, p.CalculateDelay(8))
		assert.Equal(t, 300*time.Second, p.CalculateDelay(9))
	})

	t.Run("exhausted budget returns zero", func(t *testing.T) {
		p := DefaultRetryPolicy()
		assert.Equal(t, time.Duration(0), p.CalculateDelay(p.MaxRetries))
		assert.Equal(t, time.Duration(0), p.CalculateDelay(p.MaxRetries+1))
	})

	t.Run("disabled returns zero", func(t *testing.T) {
		p := DefaultRetryPolicy()
		p.Enabled = false
		assert.Equal(t, time.Duration(0), p.CalculateDelay(0))
	})
}

func TestCalculateDelayMonotone(t *testing.T) {
	policies := map[string]RetryPolicy{
		"linear":      {Enabled: true, MaxRetries: 20, Strategy: RetryStrategyLinear, InitialDelay: 3, MaxDelay: 40, BackoffBase: 1},
		"exponential": {Enabled: true, MaxRetries: 20, Strategy: RetryStrategyExponential, InitialDelay: 1, MaxDelay: 120, BackoffBase: 3},
	}

	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Validate())
			prev := time.Duration(-1)
			for attempt := 0; attempt < p.MaxRetries; attempt++ {
				d := p.CalculateDelay(attempt)
				assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing at attempt %d", attempt)
				assert.LessOrEqual(t, d, time.Duration(p.MaxDelay)*time.Second)
				prev = d
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	p := FixedDelayPolicy(2, 1)
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(1))
	assert.False(t, p.ShouldRetry(2))

	disabled := NoRetryPolicy()
	assert.False(t, disabled.ShouldRetry(0))
}
