package numerator

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "medledger/internal/core/numerator"
)

// fakeRow returns a scripted value on Scan.
type fakeRow struct {
	val int64
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.val
	return nil
}

// fakeQuerier pops one scripted value per QueryRow call.
type fakeQuerier struct {
	values []int64
	calls  int
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	row := fakeRow{val: q.values[q.calls]}
	q.calls++
	return row
}

func TestGetNextNumber_Strict(t *testing.T) {
	q := &fakeQuerier{values: []int64{1, 2, 3}}
	svc := New(q)

	period := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	cfg := corenumerator.DefaultConfig("IM")

	for i, want := range []string{"IM-2026-00001", "IM-2026-00002", "IM-2026-00003"} {
		got, err := svc.GetNextNumber(context.Background(), cfg, nil, period)
		require.NoError(t, err)
		assert.Equal(t, want, got, "call %d", i)
	}
	assert.Equal(t, 3, q.calls, "strict strategy hits the database every time")
}

func TestGetNextNumber_CachedAllocatesRanges(t *testing.T) {
	// Each DB round trip reserves a range of 5; the scripted values are
	// the range end returned by the upsert.
	q := &fakeQuerier{values: []int64{5, 10}}
	svc := New(q)

	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := corenumerator.DefaultConfig("WT")
	opts := &corenumerator.Options{
		Strategy:  corenumerator.StrategyCached,
		RangeSize: 5,
	}

	for i := 1; i <= 10; i++ {
		got, err := svc.GetNextNumber(context.Background(), cfg, opts, period)
		require.NoError(t, err)
		assert.Equal(t, svc.formatNumber(cfg, period, int64(i)), got)
	}
	assert.Equal(t, 2, q.calls, "10 numbers from ranges of 5 need exactly 2 round trips")
}

func TestBuildKey_ResetPeriods(t *testing.T) {
	svc := New(&fakeQuerier{})
	period := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		reset string
		want  string
	}{
		{"month", "ADJ_2026_07"},
		{"year", "ADJ_2026"},
		{"never", "ADJ"},
	}
	for _, tt := range tests {
		cfg := corenumerator.Config{Prefix: "ADJ", ResetPeriod: tt.reset}
		assert.Equal(t, tt.want, svc.buildKey(cfg, period))
	}
}

func TestFormatNumber(t *testing.T) {
	svc := New(&fakeQuerier{})
	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	withYear := corenumerator.Config{Prefix: "EX", IncludeYear: true, PadWidth: 5}
	assert.Equal(t, "EX-2026-00042", svc.formatNumber(withYear, period, 42))

	noYear := corenumerator.Config{Prefix: "EX", PadWidth: 3}
	assert.Equal(t, "EX-042", svc.formatNumber(noYear, period, 42))

	// zero pad width falls back to 5
	defaulted := corenumerator.Config{Prefix: "EX"}
	assert.Equal(t, "EX-00007", svc.formatNumber(defaulted, period, 7))
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, int64(42), ParseNumber("IM-2026-00042"))
	assert.Equal(t, int64(7), ParseNumber("WT-00007"))
	assert.Equal(t, int64(-1), ParseNumber("garbage"))
}
