package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/domain/transfer"
	"medledger/internal/infrastructure/http/v1/dto"
)

// TransferHandler serves the inter-warehouse transfer endpoints.
type TransferHandler struct {
	*BaseHandler
	service *transfer.Service
}

// NewTransferHandler creates a transfer handler.
func NewTransferHandler(base *BaseHandler, service *transfer.Service) *TransferHandler {
	return &TransferHandler{BaseHandler: base, service: service}
}

// Create handles POST /transfers - draft a transfer request.
func (h *TransferHandler) Create(c *gin.Context) {
	var req dto.CreateTransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	t, err := req.ToEntity()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	if err := h.service.Create(c.Request.Context(), t); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, t)
}

// List handles GET /transfers.
func (h *TransferHandler) List(c *gin.Context) {
	f := transfer.ListFilter{
		Status: transfer.Status(c.Query("status")),
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.SourceWarehouseID, ok = h.ParseIDQuery(c, "sourceWarehouseId"); !ok {
		return
	}
	if f.DestWarehouseID, ok = h.ParseIDQuery(c, "destWarehouseId"); !ok {
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

// Get handles GET /transfers/:id.
func (h *TransferHandler) Get(c *gin.Context) {
	transferID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.GetByID(c.Request.Context(), transferID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, t)
}

// Approve handles POST /transfers/:id/approve - reserves source stock
// for every line and moves the document to in_transit once delivered.
func (h *TransferHandler) Approve(c *gin.Context) {
	transferID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.Approve(c.Request.Context(), transferID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, t)
}

// Deliver handles POST /transfers/:id/deliver - issues the reserved
// stock from the source warehouse.
func (h *TransferHandler) Deliver(c *gin.Context) {
	transferID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.TransferQuantitiesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	quantities, err := req.ToLineQuantities()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	t, err := h.service.Deliver(c.Request.Context(), transferID, quantities)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, t)
}

// Receive handles POST /transfers/:id/receive - books the delivered
// stock into the destination warehouse.
func (h *TransferHandler) Receive(c *gin.Context) {
	transferID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.TransferQuantitiesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	quantities, err := req.ToLineQuantities()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	t, err := h.service.Receive(c.Request.Context(), transferID, quantities)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, t)
}

// Cancel handles POST /transfers/:id/cancel.
func (h *TransferHandler) Cancel(c *gin.Context) {
	transferID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.CancelTransferRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	t, err := h.service.Cancel(c.Request.Context(), transferID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, t)
}
