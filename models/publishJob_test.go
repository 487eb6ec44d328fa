package models

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&PublishJob{}, &PublishTask{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(nil) })
	return db
}

func seedDeadJob(t *testing.T, db *gorm.DB, id, queue, taskId string) {
	t.Helper()
	errMsg := "exhausted"
	finished := time.Now().UTC()
	job := &PublishJob{
		ID:          id,
		Queue:       queue,
		TaskId:      taskId,
		Status:      JobStatusDead,
		Attempts:    3,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
		LastError:   &errMsg,
		FinishedAt:  &finished,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job %s: %v", id, err)
	}
}

func seedFailedTask(t *testing.T, db *gorm.DB, id string, status PublishStatus) {
	t.Helper()
	task := &PublishTask{
		ID:          id,
		FlowId:      "flow-" + id,
		UserId:      "user-1",
		AccountId:   "acc-1",
		AccountType: AccountTypeFacebook,
		Type:        PublishTypeArticle,
		Status:      status,
		ErrorMsg:    "network error",
		PublishTime: time.Now().UTC(),
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
}

// Requeuing a dead job must also reopen the owning task: the dead job
// already moved the task to a failed status, and the consumer guards skip
// any task that is not in the expected waiting state. Without the reset the
// replayed job would be a silent no-op.
func TestRequeueDeadPublishJobs_ReopensOwningTask(t *testing.T) {
	tests := []struct {
		name       string
		queue      string
		taskStatus PublishStatus
		wantStatus PublishStatus
	}{
		{"publish queue", QueuePostPublish, PublishStatusFailed, PublishStatusWaitingForPublish},
		{"finalize queue", QueuePostMediaTask, PublishStatusFailed, PublishStatusPublishing},
		{"update queue", QueueUpdatePublishedPost, PublishStatusUpdatedFailed, PublishStatusWaitingForUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			seedFailedTask(t, db, "task-1", tt.taskStatus)
			seedDeadJob(t, db, "job-1", tt.queue, "task-1")

			n, err := RequeueDeadPublishJobs(context.Background(), tt.queue, nil)
			if err != nil {
				t.Fatalf("RequeueDeadPublishJobs: %v", err)
			}
			if n != 1 {
				t.Fatalf("reverted = %d, want 1", n)
			}

			job, err := GetPublishJob(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("get job: %v", err)
			}
			if job.Status != JobStatusPending {
				t.Errorf("job status = %s, want PENDING", job.Status)
			}
			if job.Attempts != 0 || job.LastError != nil || job.FinishedAt != nil {
				t.Errorf("job retry state not reset: attempts=%d lastError=%v finishedAt=%v",
					job.Attempts, job.LastError, job.FinishedAt)
			}

			task, err := GetPublishTask(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("get task: %v", err)
			}
			if task.Status != tt.wantStatus {
				t.Errorf("task status = %s, want %s", task.Status, tt.wantStatus)
			}
			if task.ErrorMsg != "" {
				t.Errorf("task errorMsg = %q, want cleared", task.ErrorMsg)
			}
		})
	}
}

func TestRequeueDeadPublishJobs_LeavesUnrelatedTasksAlone(t *testing.T) {
	db := openTestDB(t)
	// The task moved on since the job died; replaying the job must not yank
	// a published task back into the pipeline.
	seedFailedTask(t, db, "task-1", PublishStatusPublished)
	seedDeadJob(t, db, "job-1", QueuePostPublish, "task-1")

	n, err := RequeueDeadPublishJobs(context.Background(), QueuePostPublish, nil)
	if err != nil {
		t.Fatalf("RequeueDeadPublishJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("reverted = %d, want 1", n)
	}
	task, err := GetPublishTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != PublishStatusPublished {
		t.Errorf("task status = %s, want PUBLISHED untouched", task.Status)
	}
}

func TestRequeueDeadPublishJobs_FiltersByIds(t *testing.T) {
	db := openTestDB(t)
	seedFailedTask(t, db, "task-1", PublishStatusFailed)
	seedFailedTask(t, db, "task-2", PublishStatusFailed)
	seedDeadJob(t, db, "job-1", QueuePostPublish, "task-1")
	seedDeadJob(t, db, "job-2", QueuePostPublish, "task-2")

	n, err := RequeueDeadPublishJobs(context.Background(), QueuePostPublish, []string{"job-2"})
	if err != nil {
		t.Fatalf("RequeueDeadPublishJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("reverted = %d, want 1", n)
	}
	untouched, _ := GetPublishJob(context.Background(), "job-1")
	if untouched.Status != JobStatusDead {
		t.Errorf("job-1 status = %s, want DEAD untouched", untouched.Status)
	}
	task1, _ := GetPublishTask(context.Background(), "task-1")
	if task1.Status != PublishStatusFailed {
		t.Errorf("task-1 status = %s, want FAILED untouched", task1.Status)
	}
	task2, _ := GetPublishTask(context.Background(), "task-2")
	if task2.Status != PublishStatusWaitingForPublish {
		t.Errorf("task-2 status = %s, want WaitingForPublish", task2.Status)
	}
}
