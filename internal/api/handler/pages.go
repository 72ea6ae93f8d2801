package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/service"
)

// PageHandler handles page configuration endpoints.
type PageHandler struct {
	pages *service.PageService
	sync  *service.AutoSyncService
}

// NewPageHandler creates a new page handler.
// Parameters:
//   - pages: page configuration service.
//   - sync: orchestrator for manual syncs.
//
// Returns:
//   - *PageHandler: initialized handler.
func NewPageHandler(pages *service.PageService, sync *service.AutoSyncService) *PageHandler {
	return &PageHandler{pages: pages, sync: sync}
}

// ListPages handles GET /api/v1/pages. Access tokens are never serialized.
func (h *PageHandler) ListPages(c *gin.Context) {
	configs, err := h.pages.ListPages(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "Failed to list pages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": configs})
}

// SetupPage handles POST /api/v1/pages.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *PageHandler) SetupPage(c *gin.Context) {
	var in service.PageSetupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.pages.SetupPage(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Facebook API Error: " + sourceMessage(err)})
			return
		}
		respondError(c, err, "Failed to setup Facebook page")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message":             result.Message,
		"pageConfig":          result.Config,
		"initialLeadsFetched": result.InitialLeadsFetched,
		"initialSyncError":    result.InitialSyncError,
	})
}

type autoSyncRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetAutoSync handles PATCH /api/v1/pages/:id/auto-sync.
func (h *PageHandler) SetAutoSync(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req autoSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	cfg, err := h.pages.SetAutoSync(c.Request.Context(), id, middleware.GetUserID(c), *req.Enabled)
	if err != nil {
		respondError(c, err, "Failed to toggle auto-sync")
		return
	}

	state := "disabled"
	if *req.Enabled {
		state = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Auto-sync " + state + " successfully",
		"pageConfig": cfg,
	})
}

type intervalRequest struct {
	IntervalMinutes int `json:"intervalMinutes" binding:"required"`
}

// SetSyncInterval handles PATCH /api/v1/pages/:id/interval.
func (h *PageHandler) SetSyncInterval(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intervalMinutes is required"})
		return
	}

	cfg, err := h.pages.SetSyncInterval(c.Request.Context(), id, middleware.GetUserID(c), req.IntervalMinutes)
	if err != nil {
		respondError(c, err, "Failed to update sync interval")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Sync interval updated successfully",
		"pageConfig": cfg,
	})
}

// SyncPage handles POST /api/v1/pages/:id/sync.
func (h *PageHandler) SyncPage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	result, err := h.sync.SyncConfig(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err, "Failed to sync page")
		return
	}
	if result.Outcome == service.OutcomeFailed {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   result.Error,
			"result":  result,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"leadsFetched": result.LeadsFetched,
		"result":       result,
	})
}

// FetchFormLeads handles POST /api/v1/pages/:id/forms/:formId/fetch.
func (h *PageHandler) FetchFormLeads(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	formID := strings.TrimSpace(c.Param("formId"))

	stored, err := h.sync.FetchForm(c.Request.Context(), id, middleware.GetUserID(c), formID)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Facebook API Error: " + sourceMessage(err)})
			return
		}
		respondError(c, err, "Failed to fetch leads")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"leadsFetched": stored,
	})
}

// sourceMessage returns the part of a source error after the sentinel text.
func sourceMessage(err error) string {
	msg := err.Error()
	marker := domain.ErrSourceUnavailable.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		rest := strings.TrimPrefix(msg[i+len(marker):], ": ")
		if rest != "" {
			return rest
		}
	}
	return msg
}
