package returns

import (
	"fmt"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/packaging"
)

type batchKey struct {
	productID string
	batchID   string
}

// ValidateItems checks that requested items are a subset of what the package
// shipped: every product/batch exists in the package, quantities do not exceed
// what was shipped, quantities match the listed ids, and no id is returned twice
// or already claimed by another return (claimed).
func ValidateItems(p *packaging.Package, requested []Item, claimed map[string]string) ([]Item, error) {
	if len(requested) == 0 {
		return nil, apperror.NewValidation("items are required")
	}

	shipped := make(map[batchKey]map[string]struct{})
	shippedQty := make(map[batchKey]int)
	for _, a := range p.Allocations {
		k := batchKey{a.ProductID, a.BatchID}
		if shipped[k] == nil {
			shipped[k] = make(map[string]struct{})
		}
		for _, itemID := range a.ItemIDs {
			shipped[k][itemID] = struct{}{}
		}
		shippedQty[k] += a.Quantity
	}

	merged := make(map[batchKey]*Item)
	var order []batchKey
	for i, it := range requested {
		if it.ProductID == "" || it.BatchID == "" {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d]: productId and batchId are required", i))
		}
		if it.Quantity <= 0 {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		k := batchKey{it.ProductID, it.BatchID}
		m, ok := merged[k]
		if !ok {
			m = &Item{ProductID: it.ProductID, BatchID: it.BatchID}
			merged[k] = m
			order = append(order, k)
		}
		m.Quantity += it.Quantity
		m.ItemIDs = append(m.ItemIDs, it.ItemIDs...)
	}

	seen := make(map[string]struct{})
	out := make([]Item, 0, len(order))
	for _, k := range order {
		it := merged[k]
		ids, ok := shipped[k]
		if !ok {
			return nil, apperror.NewInvalidReturnItems(fmt.Sprintf(
				"product %s batch %s was not shipped in package %s", k.productID, k.batchID, p.ID)).
				WithDetail("product_id", k.productID).
				WithDetail("batch_id", k.batchID)
		}
		if it.Quantity > shippedQty[k] {
			return nil, apperror.NewInvalidReturnItems(fmt.Sprintf(
				"returned quantity %d exceeds shipped quantity %d for product %s batch %s",
				it.Quantity, shippedQty[k], k.productID, k.batchID)).
				WithDetail("requested", it.Quantity).
				WithDetail("shipped", shippedQty[k])
		}
		if it.Quantity != len(it.ItemIDs) {
			return nil, apperror.NewInvalidReturnItems(fmt.Sprintf(
				"quantity %d does not match %d item ids for product %s batch %s",
				it.Quantity, len(it.ItemIDs), k.productID, k.batchID))
		}
		for _, itemID := range it.ItemIDs {
			if _, ok := ids[itemID]; !ok {
				return nil, apperror.NewInvalidReturnItems(fmt.Sprintf(
					"item %s was not shipped as product %s batch %s", itemID, k.productID, k.batchID)).
					WithDetail("item_id", itemID)
			}
			if _, dup := seen[itemID]; dup {
				return nil, apperror.NewInvalidReturnItems(fmt.Sprintf("item %s listed more than once", itemID)).
					WithDetail("item_id", itemID)
			}
			if other, ok := claimed[itemID]; ok {
				return nil, apperror.NewInvalidReturnItems(fmt.Sprintf(
					"item %s is already part of return %s", itemID, other)).
					WithDetail("item_id", itemID).
					WithDetail("return_id", other)
			}
			seen[itemID] = struct{}{}
		}
		out = append(out, *it)
	}
	return out, nil
}
