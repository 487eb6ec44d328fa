package queue

import (
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

const maxBackoff = 10 * time.Minute

// NextBackoff computes the delay before retry number attempt (1-based).
// Exponential doubles the base per prior attempt, capped at maxBackoff.
// Fixed always returns the base delay.
func NextBackoff(backoffType string, baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	if backoffType == models.BackoffTypeFixed {
		return baseDelay
	}
	backoff := baseDelay
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}
