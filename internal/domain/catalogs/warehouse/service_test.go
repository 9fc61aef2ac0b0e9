package warehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/domain"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	items map[id.ID]*Warehouse
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[id.ID]*Warehouse)}
}

func (r *memRepo) Create(ctx context.Context, wh *Warehouse) error {
	r.items[wh.ID] = wh
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, whID id.ID) (*Warehouse, error) {
	wh, ok := r.items[whID]
	if !ok {
		return nil, apperror.NewNotFound("warehouse", whID.String())
	}
	return wh, nil
}

func (r *memRepo) GetByCode(ctx context.Context, code string) (*Warehouse, error) {
	for _, wh := range r.items {
		if wh.Code == code {
			return wh, nil
		}
	}
	return nil, apperror.NewNotFound("warehouse", code)
}

func (r *memRepo) Update(ctx context.Context, wh *Warehouse) error {
	r.items[wh.ID] = wh
	return nil
}

func (r *memRepo) Delete(ctx context.Context, whID id.ID) error {
	return r.SetDeletionMark(ctx, whID, true)
}

func (r *memRepo) SetDeletionMark(ctx context.Context, whID id.ID, marked bool) error {
	wh, ok := r.items[whID]
	if !ok {
		return apperror.NewNotFound("warehouse", whID.String())
	}
	wh.DeletionMark = marked
	return nil
}

func (r *memRepo) List(ctx context.Context, f domain.ListFilter) (domain.ListResult[*Warehouse], error) {
	out := domain.ListResult[*Warehouse]{Limit: f.Limit, Offset: f.Offset}
	for _, wh := range r.items {
		out.Items = append(out.Items, wh)
	}
	out.TotalCount = int64(len(out.Items))
	return out, nil
}

func (r *memRepo) Exists(ctx context.Context, whID id.ID) (bool, error) {
	_, ok := r.items[whID]
	return ok, nil
}

func (r *memRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	_, err := r.GetByCode(ctx, code)
	return err == nil, nil
}

func (r *memRepo) GetTree(ctx context.Context, rootID *id.ID) ([]*Warehouse, error) {
	var out []*Warehouse
	for _, wh := range r.items {
		out = append(out, wh)
	}
	return out, nil
}

func (r *memRepo) GetPath(ctx context.Context, whID id.ID) ([]*Warehouse, error) {
	return nil, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, whID id.ID) (*Warehouse, error) {
	return r.GetByID(ctx, whID)
}

func (r *memRepo) ListChildren(ctx context.Context, parentID id.ID) ([]*Warehouse, error) {
	var out []*Warehouse
	for _, wh := range r.items {
		if wh.ParentID != nil && *wh.ParentID == parentID {
			out = append(out, wh)
		}
	}
	return out, nil
}

// noopTxManager runs the callback without a real transaction.
type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(repo *memRepo) *Service {
	return NewService(repo, noopTxManager{}, &numerator.MockGenerator{})
}

func TestService_Create_GeneratesCode(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	wh := New("", "Main Medicine Store", KindMedicineStore)
	require.NoError(t, svc.Create(ctx, wh))

	assert.NotEmpty(t, wh.Code)
	assert.True(t, wh.IsActive)
	assert.False(t, wh.IsPharmacy)
}

func TestService_Create_RejectsUnknownKind(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	wh := New("WH-1", "Bad", Kind("garage"))
	err := svc.Create(context.Background(), wh)

	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestService_Create_RejectsMissingParent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	ghost := id.New()
	wh := New("WH-1", "Ward Cabinet", KindCabinet)
	wh.ParentID = &ghost

	err := svc.Create(context.Background(), wh)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestService_SetParent_DetectsCycle(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	store := New("WH-1", "Central Store", KindMedicineStore)
	pharmacy := New("WH-2", "ICU Pharmacy", KindPharmacy)
	cabinet := New("WH-3", "ICU Cabinet", KindCabinet)

	require.NoError(t, svc.Create(ctx, store))
	pharmacy.ParentID = &store.ID
	require.NoError(t, svc.Create(ctx, pharmacy))
	cabinet.ParentID = &pharmacy.ID
	require.NoError(t, svc.Create(ctx, cabinet))

	// store -> pharmacy -> cabinet; reparenting store under cabinet closes a loop
	err := svc.SetParent(ctx, store.ID, &cabinet.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	// direct self-parent is also rejected
	err = svc.SetParent(ctx, store.ID, &store.ID)
	require.Error(t, err)
}

func TestService_SetParent_AllowsValidMove(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	store := New("WH-1", "Central Store", KindMedicineStore)
	pharmacyA := New("WH-2", "Pharmacy A", KindPharmacy)
	pharmacyB := New("WH-3", "Pharmacy B", KindPharmacy)
	cabinet := New("WH-4", "Cabinet", KindCabinet)

	require.NoError(t, svc.Create(ctx, store))
	pharmacyA.ParentID = &store.ID
	pharmacyB.ParentID = &store.ID
	require.NoError(t, svc.Create(ctx, pharmacyA))
	require.NoError(t, svc.Create(ctx, pharmacyB))
	cabinet.ParentID = &pharmacyA.ID
	require.NoError(t, svc.Create(ctx, cabinet))

	require.NoError(t, svc.SetParent(ctx, cabinet.ID, &pharmacyB.ID))

	moved, err := svc.GetByID(ctx, cabinet.ID)
	require.NoError(t, err)
	assert.Equal(t, pharmacyB.ID, *moved.ParentID)
}

func TestService_Delete_BlockedByActiveChildren(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	store := New("WH-1", "Central Store", KindMedicineStore)
	cabinet := New("WH-2", "Cabinet", KindCabinet)

	require.NoError(t, svc.Create(ctx, store))
	cabinet.ParentID = &store.ID
	require.NoError(t, svc.Create(ctx, cabinet))

	err := svc.Delete(ctx, store.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeConflict))

	// After the child is gone, deletion succeeds.
	require.NoError(t, svc.Delete(ctx, cabinet.ID))
	require.NoError(t, svc.Delete(ctx, store.ID))
}
