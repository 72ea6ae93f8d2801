package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/service"
)

const maxLeadPageSize = 500

// LeadQuerier reads and updates stored leads.
type LeadQuerier interface {
	ListForUser(ctx context.Context, userID string, filter repository.LeadFilter) ([]domain.Lead, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
	GetForUser(ctx context.Context, id uint, userID string) (*domain.Lead, error)
	UpdateStatus(ctx context.Context, id uint, userID string, status domain.LeadStatus) error
}

// LeadHandler handles lead endpoints.
type LeadHandler struct {
	intake *service.LeadIntakeService
	leads  LeadQuerier
}

// NewLeadHandler creates a new lead handler.
// Parameters:
//   - intake: manual and bulk lead intake.
//   - leads: lead store.
//
// Returns:
//   - *LeadHandler: initialized handler.
func NewLeadHandler(intake *service.LeadIntakeService, leads LeadQuerier) *LeadHandler {
	return &LeadHandler{intake: intake, leads: leads}
}

// ImportLead handles POST /api/import-lead with a form-encoded body.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *LeadHandler) ImportLead(c *gin.Context) {
	var in service.ManualLeadInput
	if err := c.ShouldBind(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	// Form submissions always create manual leads.
	in.LeadSource = ""
	in.LeadStatus = ""

	lead, err := h.intake.AddManualLead(c.Request.Context(), middleware.GetUserID(c), in, service.ImportMethodAPI)
	if err != nil {
		respondError(c, err, "Failed to add lead")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Lead added successfully!",
		"lead":    lead,
	})
}

// CreateLead handles POST /api/v1/leads.
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var in service.ManualLeadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	lead, err := h.intake.AddManualLead(c.Request.Context(), middleware.GetUserID(c), in, "")
	if err != nil {
		respondError(c, err, "Failed to add lead")
		return
	}
	c.JSON(http.StatusCreated, lead)
}

// ListLeads handles GET /api/v1/leads.
// Query parameters: status, source, limit (default 100), offset.
func (h *LeadHandler) ListLeads(c *gin.Context) {
	status := domain.LeadStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}
	src := domain.LeadSource(c.Query("source"))
	if src != "" && !src.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid source"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxLeadPageSize {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	leads, err := h.leads.ListForUser(ctx, userID, repository.LeadFilter{
		Status: status,
		Source: src,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err, "Failed to list leads")
		return
	}
	total, err := h.leads.CountForUser(ctx, userID)
	if err != nil {
		respondError(c, err, "Failed to count leads")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leads":  leads,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type updateStatusRequest struct {
	Status domain.LeadStatus `json:"status" binding:"required"`
}

// UpdateLeadStatus handles PATCH /api/v1/leads/:id/status.
func (h *LeadHandler) UpdateLeadStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	if err := h.leads.UpdateStatus(ctx, id, userID, req.Status); err != nil {
		respondError(c, err, "Failed to update lead")
		return
	}
	lead, err := h.leads.GetForUser(ctx, id, userID)
	if err != nil {
		respondError(c, err, "Failed to load lead")
		return
	}
	c.JSON(http.StatusOK, lead)
}

type importLeadsRequest struct {
	Rows    []service.ImportRow `json:"rows"`
	Records []map[string]string `json:"records"`
}

// ImportLeads handles POST /api/v1/leads/import.
// The body carries already-parsed rows, either typed ("rows") or keyed by the
// spreadsheet's header cells ("records").
func (h *LeadHandler) ImportLeads(c *gin.Context) {
	var req importLeadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rows := req.Rows
	for _, record := range req.Records {
		rows = append(rows, service.MapImportRow(record))
	}
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No rows to import"})
		return
	}

	result := h.intake.ImportLeads(c.Request.Context(), middleware.GetUserID(c), rows)
	c.JSON(http.StatusOK, result)
}
