package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/domain/catalogs/item"
	"medledger/internal/infrastructure/http/v1/dto"
)

// ItemHandler serves the stock item catalog endpoints.
type ItemHandler struct {
	*CatalogHandler[*item.Item, dto.CreateItemRequest, dto.UpdateItemRequest]
	service *item.Service
}

// NewItemHandler creates an item handler.
func NewItemHandler(base *BaseHandler, service *item.Service) *ItemHandler {
	catalog := NewCatalogHandler(base, CatalogHandlerConfig[*item.Item, dto.CreateItemRequest, dto.UpdateItemRequest]{
		Service:    service.CatalogService,
		EntityName: "item",
		MapCreateDTO: func(req dto.CreateItemRequest) (*item.Item, error) {
			return req.ToEntity(), nil
		},
		MapUpdateDTO: func(req dto.UpdateItemRequest, existing *item.Item) *item.Item {
			req.ApplyTo(existing)
			return existing
		},
	})

	return &ItemHandler{
		CatalogHandler: catalog,
		service:        service,
	}
}

// ListByKind handles GET /items/by-kind/:kind - active items of a single kind.
func (h *ItemHandler) ListByKind(c *gin.Context) {
	kind := item.Kind(c.Param("kind"))

	items, err := h.service.ListByKind(c.Request.Context(), kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}
