package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/service"
)

// BatchRunner runs one auto-sync batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time) (*service.BatchResult, error)
}

// CronHandler triggers auto-sync batches and reports the last run.
type CronHandler struct {
	runner BatchRunner
	now    func() time.Time

	mu            sync.RWMutex
	lastRunTime   time.Time
	lastRunStatus string
	lastResult    *service.BatchResult
}

// NewCronHandler creates a new cron handler.
// Parameters:
//   - runner: auto-sync orchestrator.
//
// Returns:
//   - *CronHandler: initialized handler.
func NewCronHandler(runner BatchRunner) *CronHandler {
	return &CronHandler{runner: runner, now: time.Now}
}

// AutoSyncResponse is the body of a successful trigger.
type AutoSyncResponse struct {
	Success           bool                   `json:"success"`
	Message           string                 `json:"message"`
	SyncedConfigs     int                    `json:"syncedConfigs"`
	FailedConfigs     int                    `json:"failedConfigs"`
	SkippedConfigs    int                    `json:"skippedConfigs"`
	TotalLeadsFetched int                    `json:"totalLeadsFetched"`
	Results           []service.ConfigResult `json:"results"`
}

// AutoSyncStatusResponse describes the last batch run by this process.
type AutoSyncStatusResponse struct {
	LastRunTime   string               `json:"lastRunTime,omitempty"`
	LastRunStatus string               `json:"lastRunStatus,omitempty"`
	LastResult    *service.BatchResult `json:"lastResult,omitempty"`
}

// TriggerAutoSync handles GET|POST /api/cron/auto-sync.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *CronHandler) TriggerAutoSync(c *gin.Context) {
	ctx := c.Request.Context()
	logger.CtxInfo(ctx, "Auto-sync triggered: method=%s, client_ip=%s", c.Request.Method, c.ClientIP())

	// The batch keeps running if the caller disconnects.
	result, err := h.runner.RunBatch(context.WithoutCancel(ctx), h.now())

	if errors.Is(err, service.ErrBatchInProgress) {
		logger.CtxWarn(ctx, "Auto-sync rejected: batch already running")
		c.JSON(http.StatusConflict, gin.H{"error": "Auto-sync already running"})
		return
	}

	h.mu.Lock()
	h.lastRunTime = h.now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
		h.lastResult = result
	}
	h.mu.Unlock()

	if err != nil {
		logger.CtxError(ctx, "Auto-sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Auto-sync failed",
			"details": err.Error(),
		})
		return
	}

	message := "No configs ready for sync"
	if len(result.Results) > 0 {
		message = fmt.Sprintf("Auto-sync completed. Synced %d configs, fetched %d total leads.",
			result.SyncedConfigs, result.TotalLeadsFetched)
	}
	c.JSON(http.StatusOK, AutoSyncResponse{
		Success:           true,
		Message:           message,
		SyncedConfigs:     result.SyncedConfigs,
		FailedConfigs:     result.FailedConfigs,
		SkippedConfigs:    result.SkippedConfigs,
		TotalLeadsFetched: result.TotalLeadsFetched,
		Results:           result.Results,
	})
}

// GetAutoSyncStatus handles GET /api/v1/sync/status.
func (h *CronHandler) GetAutoSyncStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := AutoSyncStatusResponse{
		LastRunStatus: h.lastRunStatus,
		LastResult:    h.lastResult,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
