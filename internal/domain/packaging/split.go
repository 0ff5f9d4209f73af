package packaging

import (
	"github.com/shopspring/decimal"

	"stockflow/internal/domain/allocation"
)

// split distributes allocations over packages holding at most maxItems items.
// Entries are cut at package boundaries; maxItems <= 0 yields a single package.
func split(allocs []allocation.Allocation, maxItems int) [][]AllocationEntry {
	var (
		groups  [][]AllocationEntry
		current []AllocationEntry
		count   int
	)
	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current, count = nil, 0
	}

	for _, a := range allocs {
		ids := a.ItemIDs
		for len(ids) > 0 {
			take := len(ids)
			if maxItems > 0 && count+take > maxItems {
				take = maxItems - count
			}
			current = append(current, AllocationEntry{
				ProductID: a.ProductID,
				BatchID:   a.BatchID,
				Quantity:  take,
				ItemIDs:   append([]string(nil), ids[:take]...),
			})
			count += take
			ids = ids[take:]
			if maxItems > 0 && count == maxItems {
				flush()
			}
		}
	}
	flush()
	return groups
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
