package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
)

func TestItemStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemInStock, ItemAllocated, true},
		{ItemAllocated, ItemPacked, true},
		{ItemPacked, ItemDispatched, true},
		{ItemDispatched, ItemDelivered, true},
		{ItemDispatched, ItemReturned, true},
		{ItemDelivered, ItemReturned, true},
		{ItemReturned, ItemRestocked, true},
		{ItemReturned, ItemDamaged, true},
		{ItemRestocked, ItemInStock, true},
		{ItemInStock, ItemPacked, false},
		{ItemPacked, ItemPacked, false},
		{ItemDelivered, ItemInStock, false},
		{ItemDamaged, ItemInStock, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestItemStatus_Validate(t *testing.T) {
	assert.NoError(t, ItemDamaged.Validate())
	assert.Error(t, ItemStatus("lost").Validate())
	assert.True(t, ItemDamaged.IsTerminal())
	assert.False(t, ItemRestocked.IsTerminal())
}

func TestItem_Transition(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	it := &Item{ID: "ITM-1", Status: ItemInStock}

	require.NoError(t, it.Transition(ItemAllocated, "n", "ORD-1", at))
	assert.Equal(t, ItemAllocated, it.Status)
	assert.Equal(t, at, it.UpdatedAt)
	last := it.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "allocated", last.Action)
	assert.Equal(t, "ORD-1", last.Reference)

	err := it.Transition(ItemDelivered, "", "", at)
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))
	assert.Len(t, it.History, 1)
}

func TestBatch_IsOpen(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	assert.True(t, (&Batch{}).IsOpen(now))
	assert.True(t, (&Batch{ExpiresAt: &future}).IsOpen(now))
	assert.False(t, (&Batch{ExpiresAt: &past}).IsOpen(now))
	assert.False(t, (&Batch{Closed: true}).IsOpen(now))
}
