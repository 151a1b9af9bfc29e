package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"civic-ingest/models"
	"civic-ingest/services"
	"civic-ingest/utils"

	"github.com/gin-gonic/gin"
)

// SyncLedger is the read and retry surface of the sync records
type SyncLedger interface {
	List(ctx context.Context, f models.SyncFilter) ([]models.SyncRecord, error)
	ResetFailed(ctx context.Context, town string) (int64, error)
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int64, error)
}

// SetupSyncRoutes registers the auto-sync ledger API
func SetupSyncRoutes(api *gin.RouterGroup, ledger SyncLedger) {
	group := api.Group("/sync")
	group.GET("", listSync(ledger))
	group.POST("/retry", retryFailed(ledger))
	group.GET("/export", exportSync(ledger))
}

func syncFilter(c *gin.Context, def, max int64) (models.SyncFilter, bool) {
	f := models.SyncFilter{
		Status: models.SyncStatus(c.Query("status")),
		Town:   c.Query("town"),
		Limit:  limitQuery(c, def, max),
	}
	switch f.Status {
	case "", models.SyncStatusPending, models.SyncStatusSynced, models.SyncStatusFailed:
		return f, true
	}
	utils.RespondWithBadRequest(c, "Unknown status", gin.H{"status": f.Status})
	return f, false
}

func listSync(ledger SyncLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := syncFilter(c, 100, 1000)
		if !ok {
			return
		}
		records, err := ledger.List(c.Request.Context(), f)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		counts, err := ledger.CountByStatus(c.Request.Context())
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "counts": counts})
	}
}

// retryFailed is the only path from failed back to pending
func retryFailed(ledger SyncLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Town string `json:"town"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Invalid request", err.Error())
				return
			}
		}

		n, err := ledger.ResetFailed(c.Request.Context(), req.Town)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": n})
	}
}

func exportSync(ledger SyncLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := syncFilter(c, 10000, 100000)
		if !ok {
			return
		}
		records, err := ledger.List(c.Request.Context(), f)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		counts, err := ledger.CountByStatus(c.Request.Context())
		if err != nil {
			respondServiceError(c, err)
			return
		}

		data, err := services.ExportSyncLedger(records, counts)
		if err != nil {
			utils.RespondWithInternalError(c, "Export failed", err.Error())
			return
		}
		filename := fmt.Sprintf("sync-ledger-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	}
}
