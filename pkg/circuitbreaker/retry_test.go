package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 5, config.MaxAttempts)
	assert.Equal(t, time.Second, config.InitialInterval)
	assert.Equal(t, 2.0, config.Multiplier)
}

func TestRetryConfig_Delay(t *testing.T) {
	config := DefaultRetryConfig()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, config.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, time.Second, config.Delay(-1))
}

func TestRetryConfig_MaxInterval(t *testing.T) {
	config := DefaultRetryConfig().WithMaxInterval(3 * time.Second)
	assert.Equal(t, 2*time.Second, config.Delay(1))
	assert.Equal(t, 3*time.Second, config.Delay(2))
}

func TestRetryConfig_CanRetry(t *testing.T) {
	config := DefaultRetryConfig().WithMaxAttempts(2)
	assert.True(t, config.CanRetry(0))
	assert.True(t, config.CanRetry(1))
	assert.False(t, config.CanRetry(2))
}
