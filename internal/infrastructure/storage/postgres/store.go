package postgres

import (
	"context"

	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/returns"
	"stockflow/internal/domain/transport"
)

// Store groups the repositories sharing one pool and transaction manager.
type Store struct {
	*TxManager
	pool *Pool

	ledger     *LedgerRepo
	packages   *PackageRepo
	transports *TransportRepo
	returns    *ReturnRepo
	orders     *OrderRepo
	catalog    *Catalog
	outbox     *Outbox
}

// NewStore creates a store over pool.
func NewStore(pool *Pool) *Store {
	txm := NewTxManager(pool)
	return &Store{
		TxManager:  txm,
		pool:       pool,
		ledger:     NewLedgerRepo(txm),
		packages:   NewPackageRepo(txm),
		transports: NewTransportRepo(txm),
		returns:    NewReturnRepo(txm),
		orders:     NewOrderRepo(txm),
		catalog:    NewCatalog(txm),
		outbox:     NewOutbox(txm),
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool returns the underlying pool.
func (s *Store) Pool() *Pool { return s.pool }

func (s *Store) Ledger() ledger.Repository { return s.ledger }
func (s *Store) Packages() packaging.Repository { return s.packages }
func (s *Store) Transports() transport.Repository { return s.transports }
func (s *Store) Returns() returns.Repository { return s.returns }
func (s *Store) Orders() order.Repository { return s.orders }
func (s *Store) Catalog() packaging.ProductCatalog { return s.catalog }
func (s *Store) Outbox() events.Publisher { return s.outbox }

// Products gives write access to the catalog.
func (s *Store) Products() *Catalog { return s.catalog }

// OutboxSource exposes pending outbox messages to the relay.
func (s *Store) OutboxSource() *Outbox { return s.outbox }
