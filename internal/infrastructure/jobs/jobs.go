package jobs

import (
	"context"
	"time"

	"stockflow/internal/infrastructure/idempotency"
	"stockflow/internal/infrastructure/messaging"
	"stockflow/pkg/logger"
)

// Job names.
const (
	JobOutboxRelay   = "outbox_relay"
	JobReconcile     = "order_reconcile"
	JobOutboxCleanup = "outbox_cleanup"
	JobIdempotencyGC = "idempotency_cleanup"
)

// Reconciler re-derives order statuses missed by post-commit syncs.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

// DeadLetterer parks exhausted outbox messages. Optional for outbox sources.
type DeadLetterer interface {
	MoveToDLQ(ctx context.Context) (int64, error)
}

// OutboxRelay drains one batch per run.
func OutboxRelay(relay *messaging.Relay) Func {
	return func(ctx context.Context) error {
		n, err := relay.ProcessBatch(ctx)
		if n > 0 {
			logger.Info(ctx, "outbox messages published", "count", n)
		}
		return err
	}
}

// ReconcileOrders repairs order statuses.
func ReconcileOrders(r Reconciler, limit int) Func {
	return func(ctx context.Context) error {
		n, err := r.Reconcile(ctx, limit)
		if n > 0 {
			logger.Info(ctx, "orders reconciled", "count", n)
		}
		return err
	}
}

// OutboxCleanup deletes published messages older than retention and, when the
// source supports it, moves exhausted messages to the dead letter table.
func OutboxCleanup(relay *messaging.Relay, source messaging.Source, retention time.Duration) Func {
	return func(ctx context.Context) error {
		deleted, err := relay.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		var moved int64
		if dl, ok := source.(DeadLetterer); ok {
			if moved, err = dl.MoveToDLQ(ctx); err != nil {
				return err
			}
		}
		logger.Info(ctx, "outbox cleanup", "deleted", deleted, "dead_lettered", moved)
		return nil
	}
}

// IdempotencyCleanup drops expired idempotency keys.
func IdempotencyCleanup(store idempotency.Store) Func {
	return func(ctx context.Context) error {
		n, err := store.CleanupExpired(ctx)
		if n > 0 {
			logger.Info(ctx, "idempotency keys expired", "count", n)
		}
		return err
	}
}
