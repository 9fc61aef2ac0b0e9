package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/catalogs/warehouse"
	"medledger/internal/infrastructure/http/v1/dto"
)

// WarehouseHandler serves the warehouse catalog endpoints.
type WarehouseHandler struct {
	*CatalogHandler[*warehouse.Warehouse, dto.CreateWarehouseRequest, dto.UpdateWarehouseRequest]
	service *warehouse.Service
}

// NewWarehouseHandler creates a warehouse handler.
func NewWarehouseHandler(base *BaseHandler, service *warehouse.Service) *WarehouseHandler {
	catalog := NewCatalogHandler(base, CatalogHandlerConfig[*warehouse.Warehouse, dto.CreateWarehouseRequest, dto.UpdateWarehouseRequest]{
		Service:    service.CatalogService,
		EntityName: "warehouse",
		MapCreateDTO: func(req dto.CreateWarehouseRequest) (*warehouse.Warehouse, error) {
			return req.ToEntity()
		},
		MapUpdateDTO: func(req dto.UpdateWarehouseRequest, existing *warehouse.Warehouse) *warehouse.Warehouse {
			req.ApplyTo(existing)
			return existing
		},
	})

	return &WarehouseHandler{
		CatalogHandler: catalog,
		service:        service,
	}
}

// SetParent handles PUT /warehouses/:id/parent - move a warehouse in the tree.
func (h *WarehouseHandler) SetParent(c *gin.Context) {
	whID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.SetParentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var parentID *id.ID
	if req.ParentID != nil {
		parsed, err := id.Parse(*req.ParentID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid parentId"))
			return
		}
		parentID = &parsed
	}

	if err := h.service.SetParent(c.Request.Context(), whID, parentID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "parent updated")
}

// GetSubtree handles GET /warehouses/:id/subtree - warehouse with all descendants.
func (h *WarehouseHandler) GetSubtree(c *gin.Context) {
	whID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	items, err := h.service.GetSubtree(c.Request.Context(), whID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}
