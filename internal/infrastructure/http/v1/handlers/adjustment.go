package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/adjustment"
	"medledger/internal/infrastructure/http/v1/dto"
)

// AdjustmentHandler serves the inventory count / write-off endpoints.
type AdjustmentHandler struct {
	*BaseHandler
	service *adjustment.Service
}

// NewAdjustmentHandler creates an adjustment handler.
func NewAdjustmentHandler(base *BaseHandler, service *adjustment.Service) *AdjustmentHandler {
	return &AdjustmentHandler{BaseHandler: base, service: service}
}

// Create handles POST /adjustments - draft a count document with the
// system quantities snapshotted per batch.
func (h *AdjustmentHandler) Create(c *gin.Context) {
	var req dto.CreateAdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	warehouseID, err := id.Parse(req.WarehouseID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid warehouseId format"))
		return
	}

	counted, err := req.ToCountedBatches()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	a, err := h.service.Draft(c.Request.Context(), warehouseID, adjustment.Type(req.Type), req.Reason, counted)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, a)
}

// List handles GET /adjustments.
func (h *AdjustmentHandler) List(c *gin.Context) {
	f := adjustment.ListFilter{
		Status: adjustment.Status(c.Query("status")),
		Type:   adjustment.Type(c.Query("type")),
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return
	}
	if f.From, ok = h.ParseTimeQuery(c, "from"); !ok {
		return
	}
	if f.To, ok = h.ParseTimeQuery(c, "to"); !ok {
		return
	}

	items, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// Get handles GET /adjustments/:id.
func (h *AdjustmentHandler) Get(c *gin.Context) {
	adjID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	a, err := h.service.GetByID(c.Request.Context(), adjID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// UpdateLines handles PUT /adjustments/:id/lines - replace the counted
// lines of a draft document.
func (h *AdjustmentHandler) UpdateLines(c *gin.Context) {
	adjID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateAdjustmentLinesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	counted, err := req.ToCountedBatches()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	a, err := h.service.UpdateLines(c.Request.Context(), adjID, counted)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// Approve handles POST /adjustments/:id/approve - post all differences
// to the ledger in one transaction.
func (h *AdjustmentHandler) Approve(c *gin.Context) {
	adjID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.ApproveAdjustmentRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	a, err := h.service.Approve(c.Request.Context(), adjID, req.ApprovalNote)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// Discard handles DELETE /adjustments/:id - drop a draft document.
func (h *AdjustmentHandler) Discard(c *gin.Context) {
	adjID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Discard(c.Request.Context(), adjID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}
