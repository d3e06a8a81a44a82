package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyCalculateDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "no delay before first attempt",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Minute},
			attempt: 0,
			want:    0,
		},
		{
			name:    "exponential doubles",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Minute, MaxDelay: time.Hour},
			attempt: 3,
			want:    4 * time.Minute,
		},
		{
			name:    "exponential capped",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Minute, MaxDelay: 3 * time.Minute},
			attempt: 5,
			want:    3 * time.Minute,
		},
		{
			name:    "linear",
			policy:  RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: time.Second, MaxDelay: time.Minute},
			attempt: 4,
			want:    4 * time.Second,
		},
		{
			name:    "fixed",
			policy:  RetryPolicy{BackoffStrategy: BackoffFixed, InitialDelay: time.Second},
			attempt: 9,
			want:    time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.CalculateDelay(tt.attempt))
		})
	}
}

func TestRetryPolicyJitterStaysInBounds(t *testing.T) {
	p := RetryPolicy{BackoffStrategy: BackoffFixed, InitialDelay: time.Second, JitterFactor: 0.25}
	for i := 0; i < 100; i++ {
		d := p.CalculateDelay(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))
}
