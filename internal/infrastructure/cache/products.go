// Package cache provides a read-through product cache with PostgreSQL
// LISTEN/NOTIFY invalidation.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockflow/internal/domain/packaging"
	"stockflow/pkg/logger"
)

// ChannelProductsChanged is notified by the products table trigger with the
// changed product id as payload.
const ChannelProductsChanged = "products_changed"

// Catalog is the product store behind the cache.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*packaging.Product, error)
	Put(ctx context.Context, p *packaging.Product) error
}

type entry struct {
	product  packaging.Product
	loadedAt time.Time
}

// ProductCache caches catalog lookups for ttl. Writes through it invalidate
// locally; writes from other processes arrive via Listen.
type ProductCache struct {
	next Catalog
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewProductCache wraps next. A non-positive ttl keeps entries until invalidated.
func NewProductCache(next Catalog, ttl time.Duration) *ProductCache {
	return &ProductCache{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// GetProduct returns a copy of the cached product, loading it on a miss.
// Lookup errors (NotFound included) are not cached.
func (c *ProductCache) GetProduct(ctx context.Context, id string) (*packaging.Product, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		p := e.product
		return &p, nil
	}

	p, err := c.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = entry{product: *p, loadedAt: c.now()}
	c.mu.Unlock()

	out := *p
	return &out, nil
}

// Put writes through and drops the cached entry.
func (c *ProductCache) Put(ctx context.Context, p *packaging.Product) error {
	if err := c.next.Put(ctx, p); err != nil {
		return err
	}
	c.Invalidate(p.ID)
	return nil
}

// Invalidate drops one product, or everything when id is empty.
func (c *ProductCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.entries = make(map[string]entry)
		return
	}
	delete(c.entries, id)
}

// Len returns the number of cached products.
func (c *ProductCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ProductCache) fresh(e entry) bool {
	return c.ttl <= 0 || c.now().Sub(e.loadedAt) < c.ttl
}

// Listen starts invalidating entries on products_changed notifications.
func (c *ProductCache) Listen(ctx context.Context, pool *pgxpool.Pool) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop(pool)
	logger.Info(c.ctx, "product cache listening", "channel", ChannelProductsChanged)
}

// Stop gracefully stops the listener.
func (c *ProductCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
}

// listenLoop holds a dedicated connection for LISTEN and reconnects on failure.
func (c *ProductCache) listenLoop(pool *pgxpool.Pool) {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(c.ctx, "LISTEN "+ChannelProductsChanged); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Anything may have changed while we were not listening.
		c.Invalidate("")
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *ProductCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				// Timeout is expected, continue listening
				continue
			}
			logger.Warn(c.ctx, "LISTEN connection lost", "error", err)
			return
		}

		logger.Debug(c.ctx, "product changed", "payload", notification.Payload)
		c.Invalidate(strings.TrimSpace(notification.Payload))
	}
}

func (c *ProductCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}
