package numerator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Format(t *testing.T) {
	period := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		cfg  Config
		num  int64
		want string
	}{
		{"default", DefaultConfig("SO"), 7, "SO-2026-00007"},
		{"no year", Config{Prefix: "RMA", PadWidth: 3}, 42, "RMA-042"},
		{"zero pad width", Config{Prefix: "RMA"}, 1, "RMA-00001"},
		{"overflow width", Config{Prefix: "SO", PadWidth: 2}, 1234, "SO-1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Format(period, tt.num))
		})
	}
}

func TestConfig_Key(t *testing.T) {
	period := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SO_2026", DefaultConfig("SO").Key(period))
	assert.Equal(t, "SO_2026_03", Config{Prefix: "SO", ResetPeriod: ResetMonth}.Key(period))
	assert.Equal(t, "SO", Config{Prefix: "SO", ResetPeriod: ResetNever}.Key(period))
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, int64(12), ParseNumber("SO-2026-00012"))
	assert.Equal(t, int64(3), ParseNumber("RMA-003"))
	assert.Equal(t, int64(-1), ParseNumber("garbage"))
}

func TestMemory_Sequences(t *testing.T) {
	ctx := context.Background()
	g := NewMemory()
	y2026 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	y2027 := y2026.AddDate(1, 0, 0)
	so, rma := DefaultConfig("SO"), DefaultConfig("RMA")

	first, err := g.GetNextNumber(ctx, so, nil, y2026)
	require.NoError(t, err)
	second, err := g.GetNextNumber(ctx, so, nil, y2026)
	require.NoError(t, err)
	other, err := g.GetNextNumber(ctx, rma, nil, y2026)
	require.NoError(t, err)
	nextYear, err := g.GetNextNumber(ctx, so, nil, y2027)
	require.NoError(t, err)

	assert.Equal(t, "SO-2026-00001", first)
	assert.Equal(t, "SO-2026-00002", second)
	assert.Equal(t, "RMA-2026-00001", other)
	assert.Equal(t, "SO-2027-00001", nextYear)

	require.NoError(t, g.SetNextNumber(ctx, so, y2026, 100))
	n, err := g.GetNextNumber(ctx, so, nil, y2026)
	require.NoError(t, err)
	assert.Equal(t, "SO-2026-00101", n)
}
