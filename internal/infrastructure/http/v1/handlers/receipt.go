package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/domain/receipt"
	"medledger/internal/infrastructure/http/v1/dto"
)

// ReceiptHandler serves the goods-in and goods-out document endpoints.
type ReceiptHandler struct {
	*BaseHandler
	service *receipt.Service
}

// NewReceiptHandler creates a receipt handler.
func NewReceiptHandler(base *BaseHandler, service *receipt.Service) *ReceiptHandler {
	return &ReceiptHandler{BaseHandler: base, service: service}
}

func (h *ReceiptHandler) listFilter(c *gin.Context) (receipt.ListFilter, bool) {
	f := receipt.ListFilter{
		Status: receipt.Status(c.Query("status")),
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return f, false
	}
	if f.From, ok = h.ParseTimeQuery(c, "from"); !ok {
		return f, false
	}
	if f.To, ok = h.ParseTimeQuery(c, "to"); !ok {
		return f, false
	}
	return f, true
}

// CreateImport handles POST /import-receipts - draft a goods-in document.
func (h *ReceiptHandler) CreateImport(c *gin.Context) {
	var req dto.CreateImportReceiptRequest
	if !h.BindJSON(c, &req) {
		return
	}

	r, err := req.ToEntity()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	created, err := h.service.CreateImport(c.Request.Context(), r)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, created)
}

// ListImports handles GET /import-receipts.
func (h *ReceiptHandler) ListImports(c *gin.Context) {
	f, ok := h.listFilter(c)
	if !ok {
		return
	}

	items, err := h.service.ListImports(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// GetImport handles GET /import-receipts/:id.
func (h *ReceiptHandler) GetImport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.GetImport(c.Request.Context(), receiptID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// ApproveImport handles POST /import-receipts/:id/approve - creates a
// batch per line and posts the import movements.
func (h *ReceiptHandler) ApproveImport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.ApproveImport(c.Request.Context(), receiptID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// CancelImport handles POST /import-receipts/:id/cancel.
func (h *ReceiptHandler) CancelImport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.CancelImport(c.Request.Context(), receiptID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "import receipt cancelled")
}

// CreateExport handles POST /export-receipts - draft a goods-out document.
func (h *ReceiptHandler) CreateExport(c *gin.Context) {
	var req dto.CreateExportReceiptRequest
	if !h.BindJSON(c, &req) {
		return
	}

	r, err := req.ToEntity()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	created, err := h.service.CreateExport(c.Request.Context(), r)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, created)
}

// ListExports handles GET /export-receipts.
func (h *ReceiptHandler) ListExports(c *gin.Context) {
	f, ok := h.listFilter(c)
	if !ok {
		return
	}

	items, err := h.service.ListExports(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// GetExport handles GET /export-receipts/:id.
func (h *ReceiptHandler) GetExport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.GetExport(c.Request.Context(), receiptID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// ReserveExport handles POST /export-receipts/:id/reserve - places
// FEFO holds for every line ahead of approval.
func (h *ReceiptHandler) ReserveExport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.ReserveExport(c.Request.Context(), receiptID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// ApproveExport handles POST /export-receipts/:id/approve - issues
// stock, consuming line reservations where present.
func (h *ReceiptHandler) ApproveExport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.ApproveExport(c.Request.Context(), receiptID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// CancelExport handles POST /export-receipts/:id/cancel - drops the
// draft and releases any line reservations.
func (h *ReceiptHandler) CancelExport(c *gin.Context) {
	receiptID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.CancelExport(c.Request.Context(), receiptID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "export receipt cancelled")
}
