package main

import (
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

type uploadSignRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

const maxVideoUploadBytes int64 = 2 * 1024 * 1024 * 1024
const maxImageUploadBytes int64 = 10 * 1024 * 1024

var mediaMimeTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// signUploadHandler hands out a signed PUT URL so clients push large media
// straight to the bucket instead of through this service.
func signUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req uploadSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType and size are required"})
			return
		}

		fallbackExt, ok := mediaMimeTypes[req.MimeType]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported media type"})
			return
		}
		sizeLimit := maxImageUploadBytes
		if strings.HasPrefix(req.MimeType, "video/") {
			sizeLimit = maxVideoUploadBytes
		}
		if req.Size > sizeLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds limit"})
			return
		}

		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext == "" {
			ext = fallbackExt
		}

		if utils.GetStorageProvider() != utils.StorageProviderGCS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
			return
		}

		objectKey := path.Join(userId, "media", uuid.New().String()+ext)
		signed, err := utils.SignUpload(c.Request.Context(), objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			config.LogError(logger, "uploads", "signUploadHandler", "Failed to sign upload", objectKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign upload"})
			return
		}

		logger.WithFields(logrus.Fields{
			"user_id":    userId,
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": uploadSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// uploadMediaHandler takes a small image (covers, story photos) inline,
// normalizes it and stores it in the bucket.
func uploadMediaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		userId, ok := sessionUserId(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxImageUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds limit"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
			return
		}

		normalized, err := utils.NormalizeCoverImage(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported or corrupt image"})
			return
		}

		objectKey := path.Join(userId, "media", uuid.New().String()+".jpg")
		if err := utils.UploadBytesToGCS(c.Request.Context(), objectKey, normalized, "image/jpeg"); err != nil {
			config.LogError(logger, "uploads", "uploadMediaHandler", "Failed to store media", objectKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store media"})
			return
		}

		logger.WithFields(logrus.Fields{
			"user_id":    userId,
			"object_key": objectKey,
			"size":       len(normalized),
		}).Info("[upload.media]")

		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{
				"objectKey": objectKey,
				"accessUrl": utils.BuildObjectAccessURL(objectKey),
			},
		})
	}
}
