package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/domain"
)

// SyncJobLister lists recent sync jobs of a user.
type SyncJobLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]domain.SyncJobView, error)
}

// SyncJobHandler handles sync job history endpoints.
type SyncJobHandler struct {
	jobs SyncJobLister
}

// NewSyncJobHandler creates a new sync job handler.
func NewSyncJobHandler(jobs SyncJobLister) *SyncJobHandler {
	return &SyncJobHandler{jobs: jobs}
}

// ListSyncJobs handles GET /api/v1/sync-jobs?limit=.
func (h *SyncJobHandler) ListSyncJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit > 100 {
		limit = 100
	}

	jobs, err := h.jobs.ListRecent(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		respondError(c, err, "Failed to list sync jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
