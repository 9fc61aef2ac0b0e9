package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medledger/internal/core/entity"
	"medledger/internal/domain/ledger"
	"medledger/internal/infrastructure/http/v1/dto"
)

// StockHandler exposes batch stock levels and the movement ledger.
type StockHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewStockHandler creates a stock handler.
func NewStockHandler(base *BaseHandler, service *ledger.Service) *StockHandler {
	return &StockHandler{BaseHandler: base, service: service}
}

// Available handles GET /stock/available?warehouseId=&itemId= -
// on-hand, reserved and available quantities per warehouse/item pair.
func (h *StockHandler) Available(c *gin.Context) {
	warehouseID, ok := h.RequireIDQuery(c, "warehouseId")
	if !ok {
		return
	}

	itemID, ok := h.ParseIDQuery(c, "itemId")
	if !ok {
		return
	}

	rows, err := h.service.Stock(c.Request.Context(), warehouseID, itemID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": rows})
}

// ListBatches handles GET /stock/batches - batch listing in issue order.
func (h *StockHandler) ListBatches(c *gin.Context) {
	f := ledger.BatchFilter{
		BatchNumber:  c.Query("batchNumber"),
		IssuableOnly: c.Query("issuableOnly") == "true",
		Limit:        h.ParseIntQuery(c, "limit", 50),
		Offset:       h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return
	}
	if f.ItemID, ok = h.ParseIDQuery(c, "itemId"); !ok {
		return
	}
	if f.ExpiringBefore, ok = h.ParseTimeQuery(c, "expiringBefore"); !ok {
		return
	}

	batches, err := h.service.ListBatches(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": batches})
}

// GetBatch handles GET /stock/batches/:id.
func (h *StockHandler) GetBatch(c *gin.Context) {
	batchID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	b, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, b)
}

// SetBatchLock handles PUT /stock/batches/:id/lock - quarantine control.
func (h *StockHandler) SetBatchLock(c *gin.Context) {
	batchID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.LockBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.service.SetBatchLock(c.Request.Context(), batchID, req.Locked, req.Reason); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "batch lock updated")
}

// History handles GET /stock/batches/:id/history - the batch's full
// movement trail, newest first.
func (h *StockHandler) History(c *gin.Context) {
	batchID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	limit := h.ParseIntQuery(c, "limit", 50)
	offset := h.ParseIntQuery(c, "offset", 0)

	movements, total, err := h.service.History(c.Request.Context(), batchID, limit, offset)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{
		Items:      movements,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// Replay handles GET /stock/batches/:id/replay - recomputes the batch
// balance from its movement chain and reports any divergence.
func (h *StockHandler) Replay(c *gin.Context) {
	batchID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.Replay(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// ListMovements handles GET /stock/movements?batchId=&from=&to=.
func (h *StockHandler) ListMovements(c *gin.Context) {
	f := ledger.MovementFilter{
		MovementType:  entity.MovementType(c.Query("type")),
		ReferenceKind: entity.ReferenceKind(c.Query("referenceKind")),
		Limit:         h.ParseIntQuery(c, "limit", 50),
		Offset:        h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.BatchID, ok = h.ParseIDQuery(c, "batchId"); !ok {
		return
	}
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return
	}
	if f.ItemID, ok = h.ParseIDQuery(c, "itemId"); !ok {
		return
	}
	if f.ReferenceID, ok = h.ParseIDQuery(c, "referenceId"); !ok {
		return
	}
	if f.From, ok = h.ParseTimeQuery(c, "from"); !ok {
		return
	}
	if f.To, ok = h.ParseTimeQuery(c, "to"); !ok {
		return
	}

	movements, err := h.service.ListMovements(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": movements})
}

// Turnover handles GET /stock/turnover?warehouseId=&from=&to= -
// opening/received/issued/closing per item over a period.
func (h *StockHandler) Turnover(c *gin.Context) {
	warehouseID, ok := h.RequireIDQuery(c, "warehouseId")
	if !ok {
		return
	}

	from, ok := h.ParseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := h.ParseTimeQuery(c, "to")
	if !ok {
		return
	}

	now := time.Now()
	fromT, toT := now.AddDate(0, -1, 0), now
	if from != nil {
		fromT = *from
	}
	if to != nil {
		toT = *to
	}

	rows, err := h.service.Turnover(c.Request.Context(), warehouseID, fromT, toT)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{
		"from":  fromT,
		"to":    toT,
		"items": rows,
	})
}
