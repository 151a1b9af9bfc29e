package routes

import (
	"context"
	"net/http"

	"civic-ingest/models"
	"civic-ingest/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobAPI is the review surface of the job service
type JobAPI interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.IngestionJob, error)
	List(ctx context.Context, status models.JobStatus, limit int64) ([]models.IngestionJob, error)
	UpdateFinalMetadata(ctx context.Context, id primitive.ObjectID, meta models.DocumentMetadata) (*models.IngestionJob, error)
	Approve(ctx context.Context, id primitive.ObjectID, final *models.DocumentMetadata) (*models.IngestionJob, error)
	Reject(ctx context.Context, id primitive.ObjectID, reason string) (*models.IngestionJob, error)
}

// JobIndexer indexes an approved job inline
type JobIndexer interface {
	IndexJob(ctx context.Context, id primitive.ObjectID) error
}

type jobHandlers struct {
	jobs    JobAPI
	indexer JobIndexer
}

// SetupJobRoutes registers the review API. indexer may be nil, in which case
// indexing only happens through the queue.
func SetupJobRoutes(api *gin.RouterGroup, jobs JobAPI, indexer JobIndexer) {
	h := &jobHandlers{jobs: jobs, indexer: indexer}

	group := api.Group("/jobs")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.PUT("/:id/metadata", h.updateMetadata)
	group.POST("/:id/approve", h.approve)
	group.POST("/:id/reject", h.reject)
	group.POST("/:id/index", h.index)
}

func (h *jobHandlers) list(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		utils.RespondWithBadRequest(c, "Unknown status", gin.H{"status": status})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), status, limitQuery(c, 50, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *jobHandlers) get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandlers) updateMetadata(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var meta models.DocumentMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		utils.RespondWithBadRequest(c, "Invalid metadata", err.Error())
		return
	}
	if meta.Town == "" || meta.Category == "" {
		utils.RespondWithBadRequest(c, "town and category are required", nil)
		return
	}

	job, err := h.jobs.UpdateFinalMetadata(c.Request.Context(), id, meta)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandlers) approve(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		FinalMetadata *models.DocumentMetadata `json:"final_metadata"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request", err.Error())
			return
		}
	}

	job, err := h.jobs.Approve(c.Request.Context(), id, req.FinalMetadata)
	if err != nil && job == nil {
		respondServiceError(c, err)
		return
	}
	if err != nil {
		// Approved, but the index task did not make it onto the queue.
		c.JSON(http.StatusAccepted, gin.H{"job": job, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandlers) reject(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request", err.Error())
			return
		}
	}

	job, err := h.jobs.Reject(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *jobHandlers) index(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	if h.indexer == nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "indexer_unavailable", "Inline indexing is disabled", nil)
		return
	}
	if err := h.indexer.IndexJob(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
