package dto

import (
	"time"

	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/reservation"
)

// CreateReservationRequest places a hold on item stock.
type CreateReservationRequest struct {
	WarehouseID string         `json:"warehouseId" binding:"required"`
	ItemID      string         `json:"itemId" binding:"required"`
	Quantity    types.Quantity `json:"quantity" binding:"required"`

	// TTLSeconds caps the hold lifetime; default applies when zero.
	TTLSeconds int `json:"ttlSeconds"`

	ReferenceKind string `json:"referenceKind" binding:"required"`
	ReferenceID   string `json:"referenceId" binding:"required"`
	ReferenceCode string `json:"referenceCode"`

	Note string `json:"note"`
}

// ToRequest converts the DTO into a domain reserve request.
func (r CreateReservationRequest) ToRequest() (reservation.ReserveRequest, error) {
	warehouseID, err := id.Parse(r.WarehouseID)
	if err != nil {
		return reservation.ReserveRequest{}, err
	}
	itemID, err := id.Parse(r.ItemID)
	if err != nil {
		return reservation.ReserveRequest{}, err
	}
	refID, err := id.Parse(r.ReferenceID)
	if err != nil {
		return reservation.ReserveRequest{}, err
	}

	return reservation.ReserveRequest{
		WarehouseID: warehouseID,
		ItemID:      itemID,
		Quantity:    r.Quantity,
		TTL:         time.Duration(r.TTLSeconds) * time.Second,
		Reference:   entity.NewReference(entity.ReferenceKind(r.ReferenceKind), refID, r.ReferenceCode),
		Note:        r.Note,
	}, nil
}

// ConsumeReservationRequest issues held stock, optionally partially.
type ConsumeReservationRequest struct {
	// Quantity to consume; zero means the full hold.
	Quantity types.Quantity `json:"quantity"`
}
