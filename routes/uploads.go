package routes

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"civic-ingest/internal/config"
	"civic-ingest/models"
	"civic-ingest/utils"

	"github.com/gin-gonic/gin"
)

// UploadSubmitter opens a review job for an uploaded file
type UploadSubmitter interface {
	Submit(ctx context.Context, filename string, data []byte) (*models.IngestionJob, error)
}

// SetupUploadRoutes registers the manual upload intake
func SetupUploadRoutes(api *gin.RouterGroup, cfg *config.Config, intake UploadSubmitter, limiters ...gin.HandlerFunc) {
	handlers := append(limiters, HandleUpload(cfg, intake))
	api.POST("/uploads", handlers...)
}

// HandleUpload accepts a multipart "file" field and returns the created job
func HandleUpload(cfg *config.Config, intake UploadSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file", "No file provided", nil)
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtension(cfg.EligibleExtensions, ext) {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file_type", "Unsupported file type",
				gin.H{"allowed": cfg.EligibleExtensions})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			utils.RespondWithBadRequest(c, "Cannot read file", nil)
			return
		}
		if len(data) == 0 {
			utils.RespondWithBadRequest(c, "File is empty", nil)
			return
		}

		job, err := intake.Submit(c.Request.Context(), header.Filename, data)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

func allowedExtension(allowed []string, ext string) bool {
	for _, a := range allowed {
		if a == ext {
			return true
		}
	}
	return false
}
