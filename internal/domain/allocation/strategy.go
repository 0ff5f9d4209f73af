package allocation

import (
	"fmt"
	"slices"
	"strings"

	"stockflow/internal/domain/ledger"
)

// Strategy decides the order in which open batches are consumed.
type Strategy string

const (
	// StrategyFEFO consumes batches closest to expiry first; batches without
	// expiry follow, oldest received first.
	StrategyFEFO Strategy = "fefo"
	// StrategyFIFO consumes batches by received date only.
	StrategyFIFO Strategy = "fifo"
)

// ParseStrategy accepts "fefo" or "fifo" in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(s)); st {
	case StrategyFEFO, StrategyFIFO:
		return st, nil
	case "":
		return StrategyFEFO, nil
	default:
		return "", fmt.Errorf("unknown allocation strategy %q", s)
	}
}

// SortBatches orders batches in place according to the strategy.
// Ties fall back to batch id, which is creation ordered.
func (s Strategy) SortBatches(batches []*ledger.Batch) {
	slices.SortStableFunc(batches, func(a, b *ledger.Batch) int {
		if s == StrategyFEFO {
			switch {
			case a.ExpiresAt != nil && b.ExpiresAt != nil:
				if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
					return c
				}
			case a.ExpiresAt != nil:
				return -1
			case b.ExpiresAt != nil:
				return 1
			}
		}
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
