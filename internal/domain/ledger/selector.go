package ledger

import (
	"sort"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Allocation is one slice of an issuance plan: take Quantity from Batch.
type Allocation struct {
	Batch    *entity.Batch
	Quantity types.Quantity
}

// SelectBatches plans an issuance of required quantity across candidate
// batches, first-expired-first-out. It is a pure function: the caller
// supplies the candidate set (normally already locked) and applies the
// returned plan itself.
//
// Ordering: earliest expiry first, batches without expiry last; ties are
// broken by batch ID, which for UUIDv7 means earliest received first.
// The plan is all-or-nothing: if the issuable candidates cannot cover
// the requirement, no allocation is returned and the error reports the
// actual available total.
func SelectBatches(batches []*entity.Batch, itemID id.ID, required types.Quantity, at time.Time) ([]Allocation, error) {
	if !required.IsPositive() {
		return nil, apperror.NewValidation("required quantity must be positive").
			WithDetail("required", required.String())
	}

	candidates := make([]*entity.Batch, 0, len(batches))
	for _, b := range batches {
		if b.ItemID == itemID && b.Issuable(at) {
			candidates = append(candidates, b)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		iExp, jExp := candidates[i].ExpiryDate, candidates[j].ExpiryDate
		if iExp == nil && jExp == nil {
			return id.Compare(candidates[i].ID, candidates[j].ID) < 0
		}
		if iExp == nil {
			return false
		}
		if jExp == nil {
			return true
		}
		if !iExp.Equal(*jExp) {
			return iExp.Before(*jExp)
		}
		return id.Compare(candidates[i].ID, candidates[j].ID) < 0
	})

	var available types.Quantity
	for _, b := range candidates {
		available += b.Available()
	}
	if available < required {
		return nil, apperror.NewInsufficientStock(itemID.String(), required.Float64(), available.Float64())
	}

	plan := make([]Allocation, 0, len(candidates))
	remaining := required
	for _, b := range candidates {
		if remaining.IsZero() {
			break
		}
		take := b.Available().Min(remaining)
		plan = append(plan, Allocation{Batch: b, Quantity: take})
		remaining -= take
	}

	return plan, nil
}
