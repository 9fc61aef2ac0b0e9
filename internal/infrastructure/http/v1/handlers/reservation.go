package handlers

import (
	"github.com/gin-gonic/gin"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/domain/reservation"
	"medledger/internal/infrastructure/http/v1/dto"
)

// ReservationHandler serves the stock hold endpoints.
type ReservationHandler struct {
	*BaseHandler
	service *reservation.Service
}

// NewReservationHandler creates a reservation handler.
func NewReservationHandler(base *BaseHandler, service *reservation.Service) *ReservationHandler {
	return &ReservationHandler{BaseHandler: base, service: service}
}

// Create handles POST /reservations - place a FEFO hold on stock.
func (h *ReservationHandler) Create(c *gin.Context) {
	var req dto.CreateReservationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	domainReq, err := req.ToRequest()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}

	res, err := h.service.Reserve(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, res)
}

// List handles GET /reservations?referenceId= - holds placed for a
// given source document.
func (h *ReservationHandler) List(c *gin.Context) {
	refID, ok := h.RequireIDQuery(c, "referenceId")
	if !ok {
		return
	}

	items, err := h.service.ListByReference(c.Request.Context(), refID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"items": items})
}

// Get handles GET /reservations/:id.
func (h *ReservationHandler) Get(c *gin.Context) {
	resID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	res, err := h.service.GetByID(c.Request.Context(), resID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, res)
}

// Consume handles POST /reservations/:id/consume - issue the held
// stock. A zero quantity in the body consumes the entire hold.
func (h *ReservationHandler) Consume(c *gin.Context) {
	resID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.ConsumeReservationRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	var (
		movements []entity.StockMovement
		err       error
	)
	if req.Quantity.IsZero() {
		movements, err = h.service.Consume(c.Request.Context(), resID)
	} else {
		movements, err = h.service.ConsumeQuantity(c.Request.Context(), resID, req.Quantity)
	}
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{"movements": movements})
}

// Release handles POST /reservations/:id/release - drop the hold and
// return the quantity to available stock.
func (h *ReservationHandler) Release(c *gin.Context) {
	resID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Release(c.Request.Context(), resID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "reservation released")
}
