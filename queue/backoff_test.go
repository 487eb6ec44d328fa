package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

func TestNextBackoff_FixedAlwaysReturnsBase(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		got := NextBackoff(models.BackoffTypeFixed, 15*time.Second, attempt)
		if got != 15*time.Second {
			t.Fatalf("attempt %d: expected 15s, got %s", attempt, got)
		}
	}
}

func TestNextBackoff_ExponentialDoublesPerAttempt(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}
	for _, tc := range cases {
		got := NextBackoff(models.BackoffTypeExponential, 5*time.Second, tc.attempt)
		if got != tc.expected {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.expected, got)
		}
	}
}

func TestNextBackoff_ExponentialCapsAtTenMinutes(t *testing.T) {
	got := NextBackoff(models.BackoffTypeExponential, 5*time.Second, 20)
	if got != 10*time.Minute {
		t.Fatalf("expected 10m cap, got %s", got)
	}
}

func TestNextBackoff_ZeroBaseFallsBackToFiveSeconds(t *testing.T) {
	got := NextBackoff(models.BackoffTypeExponential, 0, 1)
	if got != 5*time.Second {
		t.Fatalf("expected 5s default base, got %s", got)
	}
}

type classifiedError struct {
	retryable bool
}

func (e *classifiedError) Error() string   { return "classified" }
func (e *classifiedError) Retryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable classified error", &classifiedError{retryable: true}, true},
		{"permanent classified error", &classifiedError{retryable: false}, false},
		{"wrapped retryable error", fmt.Errorf("handler: %w", &classifiedError{retryable: true}), true},
		{"plain error fails closed", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.expected {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}
