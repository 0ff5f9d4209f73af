// Package memory is an in-process implementation of every fulfillment
// repository. Transactions are serialized: each one works on a deep copy of
// the state which replaces the live state on commit and is dropped on error.
package memory

import (
	"context"
	"sync"

	"stockflow/internal/core/tx"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/returns"
	"stockflow/internal/domain/transport"
	"stockflow/internal/infrastructure/messaging"
)

var _ tx.Manager = (*Store)(nil)

type state struct {
	batches    map[string]*ledger.Batch
	items      map[string]*ledger.Item
	packages   map[string]*packaging.Package
	transports map[string]*transport.Transport
	returns    map[string]*returns.Return
	orders     map[string]*order.Order
	products   map[string]*packaging.Product
	outbox     []*messaging.Message
}

func newState() *state {
	return &state{
		batches:    map[string]*ledger.Batch{},
		items:      map[string]*ledger.Item{},
		packages:   map[string]*packaging.Package{},
		transports: map[string]*transport.Transport{},
		returns:    map[string]*returns.Return{},
		orders:     map[string]*order.Order{},
		products:   map[string]*packaging.Product{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.batches {
		c.batches[k] = v.Clone()
	}
	for k, v := range s.items {
		c.items[k] = v.Clone()
	}
	for k, v := range s.packages {
		c.packages[k] = v.Clone()
	}
	for k, v := range s.transports {
		c.transports[k] = v.Clone()
	}
	for k, v := range s.returns {
		c.returns[k] = v.Clone()
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	c.outbox = make([]*messaging.Message, len(s.outbox))
	for i, m := range s.outbox {
		mm := *m
		c.outbox[i] = &mm
	}
	return c
}

// Store holds all aggregates in memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

type txKey struct{}

// RunInTransaction implements tx.Manager. Nested calls join the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	s.state = work
	return nil
}

// view runs fn against the transaction state, or the live state under a read lock.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// mutate runs fn against the transaction state, or in a transaction of its own.
func (s *Store) mutate(ctx context.Context, fn func(st *state) error) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

// Ping reports readiness.
func (s *Store) Ping(context.Context) error { return nil }

// Ledger returns the batch and item repository.
func (s *Store) Ledger() ledger.Repository { return &ledgerRepo{s} }

// Packages returns the package repository.
func (s *Store) Packages() packaging.Repository { return &packageRepo{s} }

// Transports returns the transport repository.
func (s *Store) Transports() transport.Repository { return &transportRepo{s} }

// Returns returns the return repository.
func (s *Store) Returns() returns.Repository { return &returnRepo{s} }

// Orders returns the order repository.
func (s *Store) Orders() order.Repository { return &orderRepo{s} }

// Catalog returns the product catalog.
func (s *Store) Catalog() packaging.ProductCatalog { return &Catalog{s} }

// Outbox returns the transactional outbox.
func (s *Store) Outbox() events.Publisher { return &Outbox{s} }

// Products gives write access to the catalog for seeding and tests.
func (s *Store) Products() *Catalog { return &Catalog{s} }

// OutboxSource exposes pending outbox messages to the relay.
func (s *Store) OutboxSource() *Outbox { return &Outbox{s} }
