package packaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/domain/allocation"
)

func TestSplit(t *testing.T) {
	allocs := []allocation.Allocation{
		{ProductID: "P1", BatchID: "B1", Quantity: 3, ItemIDs: []string{"i1", "i2", "i3"}},
		{ProductID: "P2", BatchID: "B2", Quantity: 2, ItemIDs: []string{"j1", "j2"}},
	}

	tests := []struct {
		name     string
		maxItems int
		want     [][]int // quantities per entry per package
	}{
		{"unbounded", 0, [][]int{{3, 2}}},
		{"exact fit", 5, [][]int{{3, 2}}},
		{"cut inside entry", 2, [][]int{{2}, {1, 1}, {1}}},
		{"one per package", 1, [][]int{{1}, {1}, {1}, {1}, {1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := split(allocs, tt.maxItems)
			require.Len(t, groups, len(tt.want))
			seen := map[string]bool{}
			for i, g := range groups {
				var qty []int
				for _, e := range g {
					qty = append(qty, e.Quantity)
					assert.Len(t, e.ItemIDs, e.Quantity)
					for _, itemID := range e.ItemIDs {
						assert.False(t, seen[itemID], "item %s split twice", itemID)
						seen[itemID] = true
					}
				}
				assert.Equal(t, tt.want[i], qty)
			}
			assert.Len(t, seen, 5)
		})
	}

	assert.Empty(t, split(nil, 3))
}

func TestPackage_Validate(t *testing.T) {
	ok := &Package{OrderID: "ORD-1", Allocations: []AllocationEntry{
		{ProductID: "P1", BatchID: "B1", Quantity: 2, ItemIDs: []string{"a", "b"}},
	}}
	assert.NoError(t, ok.Validate())

	mismatch := &Package{OrderID: "ORD-1", Allocations: []AllocationEntry{
		{ProductID: "P1", BatchID: "B1", Quantity: 3, ItemIDs: []string{"a", "b"}},
	}}
	assert.Error(t, mismatch.Validate())

	dup := &Package{OrderID: "ORD-1", Allocations: []AllocationEntry{
		{ProductID: "P1", BatchID: "B1", Quantity: 1, ItemIDs: []string{"a"}},
		{ProductID: "P1", BatchID: "B2", Quantity: 1, ItemIDs: []string{"a"}},
	}}
	assert.Error(t, dup.Validate())

	assert.Error(t, (&Package{Allocations: ok.Allocations}).Validate())
	assert.Error(t, (&Package{OrderID: "ORD-1"}).Validate())
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCreated.CanTransitionTo(StatusReadyForDispatch))
	assert.False(t, StatusCreated.CanTransitionTo(StatusDispatched))
	assert.True(t, StatusInTransit.CanTransitionTo(StatusReturned))
	assert.False(t, StatusDispatched.CanTransitionTo(StatusDelivered))
	assert.False(t, StatusReturned.CanTransitionTo(StatusDelivered))

	assert.True(t, StatusInTransit.IsOpen())
	assert.False(t, StatusDelivered.IsOpen())
	assert.True(t, StatusDelivered.IsTerminal())
	assert.False(t, StatusInTransit.IsTerminal())
	assert.True(t, StatusDelivered.AtLeast(StatusDispatched))
	assert.Error(t, Status("lost").Validate())
}

func TestPackage_Clone(t *testing.T) {
	p := &Package{ID: "PKG-1", Allocations: []AllocationEntry{{ItemIDs: []string{"a"}}}}
	c := p.Clone()
	c.Allocations[0].ItemIDs[0] = "z"
	assert.Equal(t, "a", p.Allocations[0].ItemIDs[0])
}

func TestPackage_Release(t *testing.T) {
	p := &Package{ID: "PKG-1", Allocations: []AllocationEntry{
		{Quantity: 2, ItemIDs: []string{"a", "b"}},
		{Quantity: 1, ItemIDs: []string{"c"}},
	}}

	assert.False(t, p.Release([]string{"x"}))
	assert.True(t, p.Release([]string{"b", "x"}))
	assert.False(t, p.Release([]string{"b"}))
	assert.Equal(t, []string{"a", "c"}, p.HeldItemIDs())
	assert.Equal(t, []string{"a", "b", "c"}, p.ItemIDs())
	assert.False(t, p.FullyReleased())

	c := p.Clone()
	require.True(t, c.Release([]string{"a", "c"}))
	assert.True(t, c.FullyReleased())
	assert.Equal(t, []string{"b"}, p.Released)
}
