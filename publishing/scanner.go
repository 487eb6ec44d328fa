package publishing

import (
	"context"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const scannerLockKey = "lock:publish-scanner"

// Scanner pushes due scheduled tasks into the publish queue on an interval.
// A redis lock elects one scanning instance per tick so multiple replicas do
// not double-enqueue. Duplicate pushes would be absorbed by the queue's
// waiting-job check anyway; the lock just keeps the scan cheap.
type Scanner struct {
	Service  *Service
	Locker   *redislock.Client
	Logger   *logrus.Logger
	Interval time.Duration
	LockTTL  time.Duration
}

func NewScanner(service *Service, locker *redislock.Client, logger *logrus.Logger) *Scanner {
	return &Scanner{
		Service:  service,
		Locker:   locker,
		Logger:   logger,
		Interval: 30 * time.Second,
		LockTTL:  25 * time.Second,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	if s.Locker != nil {
		lock, err := s.Locker.Obtain(ctx, scannerLockKey, s.LockTTL, nil)
		if err == redislock.ErrNotObtained {
			return
		} else if err != nil {
			s.Logger.WithField("module", "scanner").
				Warn("error obtaining scanner lock; skipping tick: " + err.Error())
			return
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	end := time.Now().UTC().Add(ImmediatePublishTolerance)
	tasks, err := s.Service.Core.Tasks.ListDue(ctx, end)
	if err != nil {
		config.LogError(s.Logger, "scanner", "scanOnce", "listing due tasks failed", nil, err)
		return
	}
	for _, task := range tasks {
		if task.Queued {
			continue
		}
		if err := s.Service.enqueuePublishTask(ctx, task); err != nil {
			config.LogError(s.Logger, "scanner", "scanOnce",
				"enqueue failed for task "+task.ID, nil, err)
			continue
		}
		s.Logger.WithFields(logrus.Fields{
			"module":  "scanner",
			"task_id": task.ID,
		}).Info("scheduled task pushed to publish queue")
	}
}
