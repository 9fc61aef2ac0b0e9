package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantity_String(t *testing.T) {
	tests := []struct {
		name string
		q    Quantity
		want string
	}{
		{"zero", 0, "0.0000"},
		{"whole units", NewQuantityFromInt(120), "120.0000"},
		{"fractional", NewQuantityFromInt64Scaled(15_5000), "15.5000"},
		{"negative", NewQuantityFromInt(-5), "-5.0000"},
		{"sub-unit", NewQuantityFromInt64Scaled(1), "0.0001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.String())
		})
	}
}

func TestQuantity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Quantity
	}{
		{"number", `12.5`, NewQuantityFromInt64Scaled(12_5000)},
		{"string", `"12.5"`, NewQuantityFromInt64Scaled(12_5000)},
		{"whole", `100`, NewQuantityFromInt(100)},
		{"negative", `-0.25`, NewQuantityFromInt64Scaled(-2500)},
		{"null", `null`, 0},
		{"truncates extra digits", `1.99999`, NewQuantityFromInt64Scaled(1_9999)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.input), &q))
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestQuantity_RoundTrip(t *testing.T) {
	orig := NewQuantityFromInt64Scaled(37_2500)

	data, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.Equal(t, "37.2500", string(data))

	var back Quantity
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, orig, back)
}

func TestQuantity_Min(t *testing.T) {
	a := NewQuantityFromInt(10)
	b := NewQuantityFromInt(3)
	assert.Equal(t, b, a.Min(b))
	assert.Equal(t, b, b.Min(a))
}
