package main

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mediaflowhq/publisher_backend/middlewares"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

// sessionUserId pulls the authenticated user from the request context. Task
// endpoints are scoped to the caller's own rows.
func sessionUserId(c *gin.Context) (string, bool) {
	claim := middlewares.CtxValue(c.Request.Context())
	if claim == nil || claim.UserId == "" {
		return "", false
	}
	return claim.UserId, true
}

func writeServiceError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	switch {
	case errors.Is(err, publishing.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, models.ErrPublishTaskExists):
		c.JSON(http.StatusConflict, gin.H{"error": "a task with this flowId already exists"})
	case errors.Is(err, publishing.ErrTaskInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "task is currently being processed"})
	case errors.Is(err, publishing.ErrTaskNotPublished),
		errors.Is(err, publishing.ErrTaskStatusInvalid),
		errors.Is(err, publishing.ErrUpdateUnsupported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func createTaskHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input publishing.CreatePublishTaskInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		input.UserId = userId

		task, err := service.CreateTask(c.Request.Context(), &input)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": task})
	}
}

func listTasksHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		filter := models.PublishTaskFilter{
			UserId:      userId,
			AccountId:   c.Query("accountId"),
			AccountType: models.AccountType(c.Query("accountType")),
			Status:      models.PublishStatus(c.Query("status")),
			Type:        models.PublishType(c.Query("type")),
		}
		if from, err := time.Parse(time.RFC3339, c.Query("timeFrom")); err == nil {
			filter.TimeFrom = &from
		}
		if to, err := time.Parse(time.RFC3339, c.Query("timeTo")); err == nil {
			filter.TimeTo = &to
		}

		tasks, err := service.ListTasks(c.Request.Context(), filter)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": tasks})
	}
}

func getTaskHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		task, err := service.GetTaskById(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		if task.UserId != userId {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": task})
	}
}

func getTaskByFlowHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		task, err := service.GetTaskByFlowId(c.Request.Context(), c.Param("flowId"), userId)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": task})
	}
}

func publishNowHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		task, err := service.GetTaskById(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		if task.UserId != userId {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}

		if err := service.EnqueueNow(c.Request.Context(), task.ID); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"id": task.ID}})
	}
}

func updateTaskHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input publishing.UpdateTaskInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		input.Id = c.Param("id")
		input.UserId = userId

		if err := service.UpdateTask(c.Request.Context(), &input); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"id": input.Id}})
	}
}

func changeTimeHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			PublishTime time.Time `json:"publish_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "publish_time is required"})
			return
		}

		if err := service.ChangeTime(c.Request.Context(), c.Param("id"), req.PublishTime, userId); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": c.Param("id")}})
	}
}

func deleteTaskHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := service.DeleteTask(c.Request.Context(), c.Param("id"), userId); err != nil {
			writeServiceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func recordFilterFromQuery(c *gin.Context, userId string) models.PublishRecordFilter {
	filter := models.PublishRecordFilter{
		UserId:      userId,
		AccountId:   c.Query("accountId"),
		AccountType: models.AccountType(c.Query("accountType")),
		Status:      models.PublishStatus(c.Query("status")),
	}
	if from, err := time.Parse(time.RFC3339, c.Query("timeFrom")); err == nil {
		filter.TimeFrom = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("timeTo")); err == nil {
		filter.TimeTo = &to
	}
	return filter
}

func listRecordsHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		records, err := service.ListRecords(c.Request.Context(), recordFilterFromQuery(c, userId))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": records})
	}
}

func exportRecordsHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		file, err := service.ExportPublishRecords(c.Request.Context(), recordFilterFromQuery(c, userId))
		if err != nil {
			writeServiceError(c, err)
			return
		}

		var buf bytes.Buffer
		if err := file.Write(&buf); err != nil {
			writeServiceError(c, err)
			return
		}

		filename := "publish-records-" + time.Now().Format("20060102") + ".xlsx"
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			buf.Bytes())
	}
}

func tiktokWebhookHandler(service *publishing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event publishing.TikTokWebhookEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			// Malformed webhook: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		if err := service.HandleTikTokWebhook(c.Request.Context(), &event); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
