// Package tx is the unit-of-work contract the pipeline services run under.
package tx

import "context"

// Manager runs a read-check-write sequence atomically. Both stores implement
// it: postgres with a pgx transaction carried on the context, memory with a
// snapshot that is swapped in on success.
type Manager interface {
	// RunInTransaction commits when fn returns nil and rolls back otherwise.
	// A call made with a context that already carries a transaction joins it,
	// so ledger transitions invoked from a package or return operation commit
	// together with it.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
