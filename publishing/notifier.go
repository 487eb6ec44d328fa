package publishing

import (
	"context"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"github.com/sirupsen/logrus"
)

// NewPubSubNotifier returns a status-change hook that publishes every task
// transition to the status topic. Publish failures are logged and dropped;
// the transition itself already happened and must not be rolled back for a
// notification.
func NewPubSubNotifier(logger *logrus.Logger) StatusChangeHook {
	return func(ctx context.Context, event config.PublishStatusEvent) {
		msgId, err := config.PublishStatusChange(ctx, event)
		if err != nil {
			config.LogError(logger, "publishing", "PubSubNotifier",
				"status event publish failed for task "+event.TaskId, event, err)
			return
		}
		logger.WithFields(logrus.Fields{
			"task_id":           event.TaskId,
			"new_status":        event.NewStatus,
			"pubsub_message_id": msgId,
		}).Debug("published status event")
	}
}
