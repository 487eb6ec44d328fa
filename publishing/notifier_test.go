package publishing

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
)

func TestPubSubNotifier_PublishFailureIsSwallowed(t *testing.T) {
	// No project configured: the publish fails fast and the hook must log
	// and return instead of propagating or panicking.
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hook := NewPubSubNotifier(logger)
	hook(context.Background(), config.PublishStatusEvent{
		TaskId:     "task-1",
		OldStatus:  "WaitingForPublish",
		NewStatus:  "PUBLISHED",
		OccurredAt: time.Now().UTC(),
	})
}
