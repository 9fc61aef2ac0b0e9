package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusRequested, StatusApproved, true},
		{StatusRequested, StatusCancelled, true},
		{StatusRequested, StatusDelivered, false},
		{StatusRequested, StatusReceived, false},
		{StatusApproved, StatusDelivered, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusReceived, false},
		{StatusDelivered, StatusReceived, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusReceived, StatusCancelled, false},
		{StatusCancelled, StatusApproved, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransfer_Transition_RejectsInvalid(t *testing.T) {
	tr := New(id.New(), id.New())
	tr.AddLine(id.New(), types.NewQuantityFromInt(10))

	err := tr.Transition(StatusReceived)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
	assert.Equal(t, StatusRequested, tr.Status)

	require.NoError(t, tr.Transition(StatusApproved))
	assert.NotNil(t, tr.ApprovedAt)

	err = tr.Transition(StatusRequested)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}

func TestTransfer_Validate_QuantityMonotonicity(t *testing.T) {
	ctx := context.Background()

	tr := New(id.New(), id.New())
	tr.AddLine(id.New(), types.NewQuantityFromInt(100))
	require.NoError(t, tr.Validate(ctx))

	tr.Lines[0].Delivered = types.NewQuantityFromInt(101)
	require.Error(t, tr.Validate(ctx))

	tr.Lines[0].Delivered = types.NewQuantityFromInt(80)
	require.NoError(t, tr.Validate(ctx))

	tr.Lines[0].Received = types.NewQuantityFromInt(81)
	require.Error(t, tr.Validate(ctx))

	tr.Lines[0].Received = types.NewQuantityFromInt(80)
	require.NoError(t, tr.Validate(ctx))
}

func TestTransfer_Validate_Structure(t *testing.T) {
	ctx := context.Background()
	wh := id.New()

	tr := New(wh, wh)
	tr.AddLine(id.New(), types.NewQuantityFromInt(5))
	err := tr.Validate(ctx)
	require.Error(t, err, "same source and destination")

	tr = New(id.New(), id.New())
	err = tr.Validate(ctx)
	require.Error(t, err, "no lines")

	tr.AddLine(id.New(), types.NewQuantityFromInt(0))
	err = tr.Validate(ctx)
	require.Error(t, err, "zero requested quantity")
}
