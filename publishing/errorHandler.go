package publishing

import (
	"context"
	"errors"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// HandleConsumerError is the central classifier every consumer runs on catch.
// The returned error goes back to the queue: retryable errors request another
// attempt, everything else has already failed the task and terminates the
// job.
//
// Classification:
//   - domain error, retryable        -> pass through (queue backoff applies)
//   - domain error, non-retryable    -> fail task, stop
//   - platform error, network-class  -> pass through (transient)
//   - platform error, 401            -> invalidate credential, fail task, stop
//   - platform error, other          -> fail task with platform message, stop
//   - anything else                  -> stringify, fail task, stop
func (c *Core) HandleConsumerError(ctx context.Context, task *models.PublishTask, failStatus models.PublishStatus, err error) error {
	var pubErr *PublishingError
	if errors.As(err, &pubErr) {
		if pubErr.Retryable() {
			return err
		}
		c.failTask(ctx, task, failStatus, pubErr.Message)
		return err
	}

	if platErr, ok := AsPlatformError(err); ok {
		if platErr.IsNetwork {
			return err
		}
		if platErr.IsAuthError() {
			if invErr := c.Accounts.Invalidate(ctx, task.AccountId); invErr != nil {
				config.LogError(c.Logger, "publishing", "HandleConsumerError",
					"credential invalidation failed for account "+task.AccountId, nil, invErr)
			}
		}
		c.failTask(ctx, task, failStatus, platErr.Error())
		return err
	}

	// Unknown shape: fail closed, never retry blindly.
	c.failTask(ctx, task, failStatus, err.Error())
	return err
}

func (c *Core) failTask(ctx context.Context, task *models.PublishTask, status models.PublishStatus, msg string) {
	if err := c.FailPublishTask(ctx, task, status, msg); err != nil {
		config.LogError(c.Logger, "publishing", "failTask",
			"could not persist failure for task "+task.ID, nil, err)
	}
}
