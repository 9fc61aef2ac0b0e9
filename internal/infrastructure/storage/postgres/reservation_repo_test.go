package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/core/id"
)

func TestBuildLineSelect_OrdersByPlanOrder(t *testing.T) {
	resID := id.New()

	query, args, err := buildLineSelect(resID)
	require.NoError(t, err)

	// Lines must come back in the order they were planned at reserve
	// time (line ids are time-ordered), never grouped by batch.
	assert.True(t, strings.HasSuffix(query, "ORDER BY id"), query)
	assert.NotContains(t, query, "ORDER BY batch_id")
	assert.Equal(t, []any{resID}, args)
}
