package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/domain/alert"
	"medledger/internal/infrastructure/http/v1/dto"
)

// AlertHandler serves stock alerts and their threshold configuration.
type AlertHandler struct {
	*BaseHandler
	engine *alert.Engine
}

// NewAlertHandler creates an alert handler.
func NewAlertHandler(base *BaseHandler, engine *alert.Engine) *AlertHandler {
	return &AlertHandler{BaseHandler: base, engine: engine}
}

// List handles GET /alerts?warehouseId=&status=.
func (h *AlertHandler) List(c *gin.Context) {
	f := alert.AlertFilter{
		Kind:     alert.Kind(c.Query("kind")),
		Level:    alert.Level(c.Query("level")),
		Status:   alert.Status(c.Query("status")),
		OpenOnly: c.Query("openOnly") == "true",
		Limit:    h.ParseIntQuery(c, "limit", 50),
		Offset:   h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return
	}
	if f.ItemID, ok = h.ParseIDQuery(c, "itemId"); !ok {
		return
	}

	items, err := h.engine.ListAlerts(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// Acknowledge handles POST /alerts/:id/acknowledge.
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	alertID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.AcknowledgeAlertRequest
	if !h.BindJSON(c, &req) {
		return
	}

	a, err := h.engine.Acknowledge(c.Request.Context(), alertID, req.ActionTaken)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// Resolve handles POST /alerts/:id/resolve - manual close of an alert.
func (h *AlertHandler) Resolve(c *gin.Context) {
	alertID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	a, err := h.engine.Resolve(c.Request.Context(), alertID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// ListThresholds handles GET /thresholds.
func (h *AlertHandler) ListThresholds(c *gin.Context) {
	f := alert.ThresholdFilter{
		ActiveOnly: c.Query("activeOnly") == "true",
		Limit:      h.ParseIntQuery(c, "limit", 50),
		Offset:     h.ParseIntQuery(c, "offset", 0),
	}

	var ok bool
	if f.ItemID, ok = h.ParseIDQuery(c, "itemId"); !ok {
		return
	}
	if f.WarehouseID, ok = h.ParseIDQuery(c, "warehouseId"); !ok {
		return
	}

	items, err := h.engine.ListThresholds(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// UpsertThreshold handles PUT /thresholds - create or replace the
// threshold for an item/warehouse pair. A request carrying an id
// reconfigures that threshold; without one it creates.
func (h *AlertHandler) UpsertThreshold(c *gin.Context) {
	var req dto.UpsertThresholdRequest
	if !h.BindJSON(c, &req) {
		return
	}

	t, err := req.ToEntity()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.ID != nil {
		if err := h.engine.UpdateThreshold(ctx, t); err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, t)
		return
	}

	if err := h.engine.CreateThreshold(ctx, t); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, t)
}

// DeleteThreshold handles DELETE /thresholds/:id.
func (h *AlertHandler) DeleteThreshold(c *gin.Context) {
	thresholdID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.engine.DeleteThreshold(c.Request.Context(), thresholdID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}
