package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/domain/ledger"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyFEFO, false},
		{"fefo", StrategyFEFO, false},
		{"FIFO", StrategyFIFO, false},
		{"lifo", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSortBatches(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	exp := func(d int) *time.Time { v := day(d); return &v }

	batches := func() []*ledger.Batch {
		return []*ledger.Batch{
			{ID: "BAT-a", ReceivedAt: day(1)}, // no expiry, oldest
			{ID: "BAT-b", ReceivedAt: day(3), ExpiresAt: exp(20)},
			{ID: "BAT-c", ReceivedAt: day(2), ExpiresAt: exp(10)},
			{ID: "BAT-d", ReceivedAt: day(2)},
		}
	}
	order := func(bs []*ledger.Batch) []string {
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = b.ID
		}
		return out
	}

	fefo := batches()
	StrategyFEFO.SortBatches(fefo)
	assert.Equal(t, []string{"BAT-c", "BAT-b", "BAT-a", "BAT-d"}, order(fefo))

	fifo := batches()
	StrategyFIFO.SortBatches(fifo)
	assert.Equal(t, []string{"BAT-a", "BAT-c", "BAT-d", "BAT-b"}, order(fifo))
}

func TestMergeLines(t *testing.T) {
	got, err := mergeLines([]Line{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}, {ProductID: "P1", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "P1", Quantity: 5}, {ProductID: "P2", Quantity: 1}}, got)

	_, err = mergeLines(nil)
	assert.Error(t, err)
	_, err = mergeLines([]Line{{ProductID: "P1", Quantity: 0}})
	assert.Error(t, err)
	_, err = mergeLines([]Line{{Quantity: 1}})
	assert.Error(t, err)
}
