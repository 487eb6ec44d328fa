package publishing

import (
	"fmt"
	"testing"

	"bitbucket.org/mediaflowhq/publisher_backend/queue"
)

func TestPublishingError_Classification(t *testing.T) {
	if !NewRetryableError("transient %s", "thing").Retryable() {
		t.Fatal("NewRetryableError must be retryable")
	}
	if NewTaskError("bad input").Retryable() {
		t.Fatal("NewTaskError must not be retryable")
	}
	if !queue.IsRetryable(NewRetryableError("transient")) {
		t.Fatal("queue must classify a retryable publishing error as retryable")
	}
	if queue.IsRetryable(NewTaskError("permanent")) {
		t.Fatal("queue must classify a task error as permanent")
	}
}

func TestPlatformError_NetworkIsRetryable(t *testing.T) {
	netErr := &PlatformError{Platform: "facebook", Operation: "publishFeedPost", IsNetwork: true, Message: "timeout"}
	if !netErr.Retryable() {
		t.Fatal("network platform error must be retryable")
	}
	if !queue.IsRetryable(fmt.Errorf("handler: %w", netErr)) {
		t.Fatal("wrapped network platform error must stay retryable")
	}

	apiErr := &PlatformError{Platform: "facebook", Operation: "publishFeedPost", Status: 400, Message: "bad media"}
	if apiErr.Retryable() {
		t.Fatal("API rejection must not be retryable")
	}
}

func TestPlatformError_IsAuthError(t *testing.T) {
	if !(&PlatformError{Status: 401}).IsAuthError() {
		t.Fatal("401 must be an auth error")
	}
	if (&PlatformError{Status: 403}).IsAuthError() {
		t.Fatal("403 is not treated as an auth error")
	}
	if (&PlatformError{IsNetwork: true}).IsAuthError() {
		t.Fatal("network failure is not an auth error")
	}
}

func TestAsPlatformError(t *testing.T) {
	inner := &PlatformError{Platform: "tiktok", Status: 500}
	got, ok := AsPlatformError(fmt.Errorf("upload: %w", inner))
	if !ok || got != inner {
		t.Fatal("AsPlatformError must unwrap the platform error")
	}
	if _, ok := AsPlatformError(NewTaskError("not platform")); ok {
		t.Fatal("AsPlatformError must reject non-platform errors")
	}
}
