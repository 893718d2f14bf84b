package resilience

import (
	"time"
)

// DiscoveryTaskRetry is the preset for research/discovery task invocations:
// the calls are expensive and slow, so few attempts with a short cap.
func DiscoveryTaskRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       8 * time.Second,
		JitterFraction: 0.1,
	}
}

// StoreRetry is the preset for Run Store calls: cheap and usually a
// transient network blip, so retried more aggressively.
func StoreRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		JitterFraction: 0.1,
	}
}

// FromConfig builds a RetryConfig from configuration values, falling back
// to the given preset for anything unset.
func FromConfig(preset RetryConfig, maxAttempts, baseDelayMs, maxDelayMs int) RetryConfig {
	if maxAttempts > 0 {
		preset.MaxAttempts = maxAttempts
	}
	if baseDelayMs > 0 {
		preset.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		preset.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	return preset
}
