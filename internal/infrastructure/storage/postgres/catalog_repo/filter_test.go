package catalog_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/domain/filter"
)

func newTestRepo() *BaseCatalogRepo[any] {
	return NewBaseCatalogRepo[any](nil, "test_table", []string{"id", "col1"}, func() any { return nil })
}

func TestApplyAdvancedFilters_Operators(t *testing.T) {
	repo := newTestRepo()

	tests := []struct {
		name     string
		item     filter.Item
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "Equal",
			item:     filter.Item{Field: "col1", Operator: filter.Equal, Value: 10},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 = $1",
			wantArgs: []any{10},
		},
		{
			name:     "NotEqual",
			item:     filter.Item{Field: "col1", Operator: filter.NotEqual, Value: 10},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 <> $1",
			wantArgs: []any{10},
		},
		{
			name:     "LessOrEqual",
			item:     filter.Item{Field: "col1", Operator: filter.LessOrEqual, Value: 5},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 <= $1",
			wantArgs: []any{5},
		},
		{
			name:     "GreaterOrEqual",
			item:     filter.Item{Field: "col1", Operator: filter.GreaterOrEqual, Value: 5},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 >= $1",
			wantArgs: []any{5},
		},
		{
			name:     "InList",
			item:     filter.Item{Field: "col1", Operator: filter.InList, Value: []any{1, 2}},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 IN ($1,$2)",
			wantArgs: []any{1, 2},
		},
		{
			name:     "IsNull",
			item:     filter.Item{Field: "parent_id", Operator: filter.IsNull},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE parent_id IS NULL",
			wantArgs: nil,
		},
		{
			name:     "Contains",
			item:     filter.Item{Field: "col1", Operator: filter.Contains, Value: "amox"},
			wantSQL:  "SELECT id, col1 FROM test_table WHERE col1 ILIKE $1",
			wantArgs: []any{"%amox%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := repo.applyAdvancedFilters(repo.baseSelect(), []filter.Item{tt.item})
			require.NoError(t, err)

			sql, args, err := q.ToSql()
			require.NoError(t, err)

			assert.Equal(t, tt.wantSQL, sql)
			if len(tt.wantArgs) == 0 {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestApplyAdvancedFilters_RejectsUnknownColumn(t *testing.T) {
	repo := newTestRepo()

	_, err := repo.applyAdvancedFilters(repo.baseSelect(), []filter.Item{
		{Field: "name; DROP TABLE test_table", Operator: filter.Equal, Value: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter column")
}

func TestApplyAdvancedFilters_InHierarchy(t *testing.T) {
	repo := newTestRepo()

	q, err := repo.applyAdvancedFilters(repo.baseSelect(), []filter.Item{
		{Field: "id", Operator: filter.InHierarchy, Value: "root-id"},
	})
	require.NoError(t, err)

	sql, args, err := q.ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "WITH RECURSIVE hierarchy")
	assert.Contains(t, sql, "test_table")
	assert.Equal(t, []any{"root-id"}, args)
}
