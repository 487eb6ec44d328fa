package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// opsAuthorized gates internal tooling behind a shared secret:
// OPS_ADMIN_TOKEN must be set and presented via x-ops-token.
func opsAuthorized(c *gin.Context) bool {
	token := strings.TrimSpace(os.Getenv("OPS_ADMIN_TOKEN"))
	if token == "" {
		return false
	}
	return c.GetHeader("x-ops-token") == token
}

var knownQueues = map[string]bool{
	models.QueuePostPublish:         true,
	models.QueuePostMediaTask:       true,
	models.QueueUpdatePublishedPost: true,
}

// requeueDeadJobsHandler reverts DEAD jobs to PENDING and reopens their
// tasks so the dispatchers pick them up again. With no ids it requeues
// every DEAD job on the queue.
func requeueDeadJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !opsAuthorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			Queue string   `json:"queue"`
			Ids   []string `json:"ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if !knownQueues[req.Queue] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown queue"})
			return
		}

		count, err := models.RequeueDeadPublishJobs(c.Request.Context(), req.Queue, req.Ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "requeue failed"})
			return
		}

		config.GetLogger().WithFields(logrus.Fields{
			"field":    "JobsRequeue",
			"queue":    req.Queue,
			"requeued": count,
		}).Info("requeued DEAD publish jobs")

		c.JSON(http.StatusOK, gin.H{"data": gin.H{"requeued": count}})
	}
}

// queueStatsHandler reports per-status job counts for one queue or all of
// them when no queue is given.
func queueStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !opsAuthorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		queues := []string{models.QueuePostPublish, models.QueuePostMediaTask, models.QueueUpdatePublishedPost}
		if q := c.Query("queue"); q != "" {
			if !knownQueues[q] {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown queue"})
				return
			}
			queues = []string{q}
		}

		stats := make(map[string]map[string]int64, len(queues))
		for _, q := range queues {
			counts, err := models.CountPublishJobsByStatus(c.Request.Context(), q)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
				return
			}
			stats[q] = counts
		}

		c.JSON(http.StatusOK, gin.H{"data": stats})
	}
}
