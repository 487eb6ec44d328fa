package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// Maintenance tool for the publish job queue. Two sweeps:
//   - mark PROCESSING jobs whose lock expired long ago as FAILED so they stop
//     pinning their tasks
//   - requeue DEAD jobs on a queue after the underlying fault is fixed
func main() {
	queueName := flag.String("queue", "", "Required: queue name (post_publish, post_media_task, update_published_post)")
	staleAfter := flag.Duration("stale-after", 30*time.Minute, "Age past lock expiry before a PROCESSING job counts as abandoned")
	requeueDead := flag.Bool("requeue-dead", false, "Also requeue all DEAD jobs on the queue")
	dryRun := flag.Bool("dry-run", true, "Show affected jobs only (no writes)")
	confirm := flag.String("confirm", "", "Type SWEEP to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*queueName) == "" {
		fmt.Fprintln(os.Stderr, "--queue is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "SWEEP" {
		fmt.Fprintln(os.Stderr, "set --confirm=SWEEP to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	cutoff := time.Now().UTC().Add(-*staleAfter)

	var abandoned []*models.PublishJob
	err := db.
		Where("queue = ? AND status = ? AND locked_at < ?", *queueName, models.JobStatusProcessing, cutoff).
		Find(&abandoned).Error
	if err != nil {
		fmt.Fprintln(os.Stderr, "query failed:", err)
		os.Exit(1)
	}

	fmt.Printf("found %d abandoned PROCESSING job(s) on %s (locked before %s)\n",
		len(abandoned), *queueName, cutoff.Format(time.RFC3339))
	for _, job := range abandoned {
		lockedBy := ""
		if job.LockedBy != nil {
			lockedBy = *job.LockedBy
		}
		lockedAt := ""
		if job.LockedAt != nil {
			lockedAt = job.LockedAt.Format(time.RFC3339)
		}
		fmt.Printf("  job=%s task=%s attempts=%d locked_by=%s locked_at=%s\n",
			job.ID, job.TaskId, job.Attempts, lockedBy, lockedAt)
	}

	if *dryRun {
		if *requeueDead {
			var deadCount int64
			db.Model(&models.PublishJob{}).
				Where("queue = ? AND status = ?", *queueName, models.JobStatusDead).
				Count(&deadCount)
			fmt.Printf("would requeue %d DEAD job(s)\n", deadCount)
		}
		fmt.Println("dry-run: no changes made")
		return
	}

	if len(abandoned) > 0 {
		err = db.Transaction(func(tx *gorm.DB) error {
			return tx.Model(&models.PublishJob{}).
				Where("queue = ? AND status = ? AND locked_at < ?", *queueName, models.JobStatusProcessing, cutoff).
				Updates(map[string]interface{}{
					"status":      models.JobStatusFailed,
					"last_error":  "swept: worker lock expired without completion",
					"finished_at": time.Now().UTC(),
				}).Error
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "sweep failed:", err)
			os.Exit(1)
		}
		fmt.Printf("marked %d job(s) FAILED\n", len(abandoned))
	}

	if *requeueDead {
		count, err := models.RequeueDeadPublishJobs(context.Background(), *queueName, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "requeue failed:", err)
			os.Exit(1)
		}
		fmt.Printf("requeued %d DEAD job(s)\n", count)
	}
}
