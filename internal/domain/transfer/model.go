// Package transfer implements the inter-warehouse transfer workflow:
// stock requested by a destination warehouse, approved and held at the
// source, delivered out of the source ledger and received into the
// destination ledger.
package transfer

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Status is the transfer workflow state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusDelivered Status = "delivered"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// validTransitions is the workflow edge set. Cancellation is only
// possible before stock has physically moved.
var validTransitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusDelivered, StatusCancelled},
	StatusDelivered: {StatusReceived},
}

// CanTransition reports whether the workflow allows moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the workflow has ended.
func (s Status) IsTerminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// Line is one item position on a transfer. Quantities narrow monotonically
// along the workflow: Received <= Delivered <= Requested.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID id.ID `db:"item_id" json:"itemId"`

	Requested types.Quantity `db:"requested" json:"requested"`
	Delivered types.Quantity `db:"delivered" json:"delivered"`
	Received  types.Quantity `db:"received" json:"received"`

	// ReservationID links the source-side hold placed on approval.
	ReservationID *id.ID `db:"reservation_id" json:"reservationId,omitempty"`

	Note string `db:"note" json:"note,omitempty"`
}

// Transfer is a stock movement order between two warehouses.
type Transfer struct {
	entity.BaseDocument

	Number string `db:"number" json:"number"`

	SourceWarehouseID id.ID `db:"source_warehouse_id" json:"sourceWarehouseId"`
	DestWarehouseID   id.ID `db:"dest_warehouse_id" json:"destWarehouseId"`

	Status Status `db:"status" json:"status"`

	RequestedAt time.Time  `db:"requested_at" json:"requestedAt"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReceivedAt  *time.Time `db:"received_at" json:"receivedAt,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`

	Note string `db:"note" json:"note,omitempty"`

	Lines []Line `db:"-" json:"lines"`
}

// New creates a transfer in the requested state.
func New(sourceWarehouseID, destWarehouseID id.ID) *Transfer {
	return &Transfer{
		BaseDocument:      entity.NewBaseDocument(),
		SourceWarehouseID: sourceWarehouseID,
		DestWarehouseID:   destWarehouseID,
		Status:            StatusRequested,
		RequestedAt:       time.Now().UTC(),
		Lines:             make([]Line, 0),
	}
}

// AddLine appends an item position.
func (t *Transfer) AddLine(itemID id.ID, requested types.Quantity) {
	t.Lines = append(t.Lines, Line{
		LineID:    id.New(),
		LineNo:    len(t.Lines) + 1,
		ItemID:    itemID,
		Requested: requested,
	})
}

// LineByID finds a line by its ID.
func (t *Transfer) LineByID(lineID id.ID) *Line {
	for i := range t.Lines {
		if t.Lines[i].LineID == lineID {
			return &t.Lines[i]
		}
	}
	return nil
}

// Transition moves the workflow state, enforcing the edge set.
func (t *Transfer) Transition(next Status) error {
	if !t.Status.CanTransition(next) {
		return apperror.NewInvalidTransition("transfer", string(t.Status), string(next))
	}
	now := time.Now().UTC()
	switch next {
	case StatusApproved:
		t.ApprovedAt = &now
	case StatusDelivered:
		t.DeliveredAt = &now
	case StatusReceived:
		t.ReceivedAt = &now
	case StatusCancelled:
		t.CancelledAt = &now
	}
	t.Status = next
	t.Touch()
	return nil
}

// Validate implements entity.Validatable.
func (t *Transfer) Validate(ctx context.Context) error {
	if id.IsNil(t.SourceWarehouseID) {
		return apperror.NewValidation("source warehouse is required").
			WithDetail("field", "sourceWarehouseId")
	}
	if id.IsNil(t.DestWarehouseID) {
		return apperror.NewValidation("destination warehouse is required").
			WithDetail("field", "destWarehouseId")
	}
	if t.SourceWarehouseID == t.DestWarehouseID {
		return apperror.NewValidation("source and destination must differ").
			WithDetail("field", "destWarehouseId")
	}
	if len(t.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, line := range t.Lines {
		if id.IsNil(line.ItemID) {
			return apperror.NewValidation("item is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if !line.Requested.IsPositive() {
			return apperror.NewValidation("requested quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.Delivered.IsNegative() || line.Delivered > line.Requested {
			return apperror.NewValidation("delivered must be between 0 and requested").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1).
				WithDetail("requested", line.Requested.String()).
				WithDetail("delivered", line.Delivered.String())
		}
		if line.Received.IsNegative() || line.Received > line.Delivered {
			return apperror.NewValidation("received must be between 0 and delivered").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1).
				WithDetail("delivered", line.Delivered.String()).
				WithDetail("received", line.Received.String())
		}
	}
	return nil
}
