package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PublishJob is one durable unit of queue work. Jobs are claimed with
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never double-claim,
// and a stale lock (worker crashed mid-run) is reclaimed after the lock TTL.
type PublishJob struct {
	ID           string     `gorm:"primary_key;size:36;index:idx_job_dispatch,priority:4" json:"id"`
	Queue        string     `gorm:"size:64;not null;index;index:idx_job_dispatch,priority:1" json:"queue"`
	TaskId       string     `gorm:"size:36;index;not null" json:"task_id"`
	Payload      []byte     `gorm:"type:blob" json:"payload"`
	Status       string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_job_dispatch,priority:2" json:"status"` // PENDING|PROCESSING|SUCCEEDED|FAILED|DEAD
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts  int        `gorm:"not null;default:3" json:"max_attempts"`
	BackoffType  string     `gorm:"size:16;not null;default:'exponential'" json:"backoff_type"` // exponential|fixed
	BackoffDelay int64      `gorm:"not null;default:5000" json:"backoff_delay"`                 // milliseconds
	RunAt        time.Time  `gorm:"index;index:idx_job_dispatch,priority:3" json:"run_at"`
	NextAttempt  *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at"`
	LockedAt     *time.Time `gorm:"index" json:"locked_at"`
	LockedBy     *string    `gorm:"size:100" json:"locked_by"`
	StalledCount int        `gorm:"not null;default:0" json:"stalled_count"`
	LastError    *string    `gorm:"type:text" json:"last_error"`
	FinishedAt   *time.Time `json:"finished_at"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PublishJob) TableName() string {
	return "publish_jobs"
}

func CreatePublishJob(ctx context.Context, job *PublishJob) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(job).Error
}

func GetPublishJob(ctx context.Context, id string) (*PublishJob, error) {
	db := config.GetDB()
	var job PublishJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetActivePublishJob finds the live job of a task on a queue, if any.
// Terminal jobs (SUCCEEDED, FAILED, DEAD) are not live.
func GetActivePublishJob(ctx context.Context, queue string, taskId string) (*PublishJob, error) {
	db := config.GetDB()
	var job PublishJob
	err := db.WithContext(ctx).
		Where("queue = ? AND task_id = ? AND status IN ?", queue, taskId,
			[]string{JobStatusPending, JobStatusProcessing}).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &job, nil
}

// DeleteWaitingPublishJob removes a job only while it still waits to run.
// Returns false when the job was already claimed or finished.
func DeleteWaitingPublishJob(ctx context.Context, id string) (bool, error) {
	db := config.GetDB()
	res := db.WithContext(ctx).
		Where("id = ? AND status = ?", id, JobStatusPending).
		Delete(&PublishJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimPublishJobs claims up to limit runnable jobs on a queue for workerId
// inside a single transaction. Eligible rows:
//   - PENDING whose run time has arrived (or retry backoff elapsed)
//   - PROCESSING with a lock older than lockTTL (stalled worker)
//
// Stalled rows past maxStalled go straight to FAILED rather than re-running.
func ClaimPublishJobs(ctx context.Context, queue string, workerId string, limit int, lockTTL time.Duration, maxStalled int) ([]*PublishJob, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	staleBefore := now.Add(-lockTTL)

	var claimed []*PublishJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue = ?", queue).
			Where(`
				(
					status = ? AND run_at <= ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, JobStatusPending, now, now, JobStatusProcessing, staleBefore).
			Order("run_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		kept := claimed[:0]
		for _, job := range claimed {
			if job.Status == JobStatusProcessing {
				// Reclaiming a stalled job.
				if job.StalledCount+1 > maxStalled {
					msg := "job stalled too many times"
					if err := tx.Model(&PublishJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
						"status":        JobStatusFailed,
						"last_error":    &msg,
						"stalled_count": gorm.Expr("stalled_count + 1"),
						"locked_at":     nil,
						"locked_by":     nil,
						"finished_at":   &now,
					}).Error; err != nil {
						return err
					}
					job.Status = JobStatusFailed
					job.StalledCount++
					job.LastError = &msg
					kept = append(kept, job)
					continue
				}
				job.StalledCount++
				if err := tx.Model(&PublishJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
					"status":        JobStatusProcessing,
					"locked_at":     &now,
					"locked_by":     &workerId,
					"stalled_count": gorm.Expr("stalled_count + 1"),
				}).Error; err != nil {
					return err
				}
				job.LockedAt = &now
				job.LockedBy = &workerId
				kept = append(kept, job)
				continue
			}
			job.Status = JobStatusProcessing
			job.Attempts++
			job.LockedAt = &now
			job.LockedBy = &workerId
			if err := tx.Model(&PublishJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
				"status":          JobStatusProcessing,
				"locked_at":       &now,
				"locked_by":       &workerId,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      nil,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
			kept = append(kept, job)
		}
		claimed = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func MarkPublishJobSucceeded(ctx context.Context, id string) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&PublishJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      JobStatusSucceeded,
			"locked_at":   nil,
			"locked_by":   nil,
			"finished_at": &now,
		}).Error
}

// MarkPublishJobRetry puts a claimed job back in PENDING with the retry time
// already computed by the caller.
func MarkPublishJobRetry(ctx context.Context, id string, nextAttempt time.Time, errMsg string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&PublishJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          JobStatusPending,
			"last_error":      &errMsg,
			"next_attempt_at": &nextAttempt,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

func MarkPublishJobFailed(ctx context.Context, id string, errMsg string, dead bool) error {
	db := config.GetDB()
	now := time.Now().UTC()
	status := JobStatusFailed
	if dead {
		status = JobStatusDead
	}
	return db.WithContext(ctx).Model(&PublishJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"last_error":      &errMsg,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
			"finished_at":     &now,
		}).Error
}

// requeueTaskStatusReset maps a queue to the edge a replayed task has to
// take: which failed status its tasks carry, and which waiting status lets
// the consumer guard accept the replayed job.
var requeueTaskStatusReset = map[string]struct {
	from PublishStatus
	to   PublishStatus
}{
	QueuePostPublish:         {PublishStatusFailed, PublishStatusWaitingForPublish},
	QueuePostMediaTask:       {PublishStatusFailed, PublishStatusPublishing},
	QueueUpdatePublishedPost: {PublishStatusUpdatedFailed, PublishStatusWaitingForUpdate},
}

// RequeueDeadPublishJobs reverts DEAD jobs on a queue back to PENDING for a
// manual replay, and reopens the owning tasks in the same transaction. A dead
// job already moved its task to a failed status, so without the task reset
// the replayed job would hit the consumer idempotency guard and be skipped.
// Returns the number of jobs reverted.
func RequeueDeadPublishJobs(ctx context.Context, queue string, ids []string) (int64, error) {
	db := config.GetDB()
	var reverted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", JobStatusDead)
		if queue != "" {
			q = q.Where("queue = ?", queue)
		}
		if len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		}
		var jobs []*PublishJob
		if err := q.Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		jobIds := make([]string, 0, len(jobs))
		taskIdsByQueue := map[string][]string{}
		for _, job := range jobs {
			jobIds = append(jobIds, job.ID)
			taskIdsByQueue[job.Queue] = append(taskIdsByQueue[job.Queue], job.TaskId)
		}

		res := tx.Model(&PublishJob{}).Where("id IN ?", jobIds).Updates(map[string]interface{}{
			"status":          JobStatusPending,
			"attempts":        0,
			"stalled_count":   0,
			"next_attempt_at": nil,
			"last_error":      nil,
			"locked_at":       nil,
			"locked_by":       nil,
			"finished_at":     nil,
		})
		if res.Error != nil {
			return res.Error
		}
		reverted = res.RowsAffected

		for jobQueue, taskIds := range taskIdsByQueue {
			reset, ok := requeueTaskStatusReset[jobQueue]
			if !ok {
				continue
			}
			if err := tx.Model(&PublishTask{}).
				Where("id IN ? AND status = ?", taskIds, reset.from).
				Updates(map[string]interface{}{
					"status":    reset.to,
					"error_msg": "",
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return reverted, err
}

// CountPublishJobsByStatus groups live queue depth for the ops endpoint.
func CountPublishJobsByStatus(ctx context.Context, queue string) (map[string]int64, error) {
	db := config.GetDB()
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := db.WithContext(ctx).Model(&PublishJob{}).
		Select("status, COUNT(*) AS n").
		Group("status")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
