package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockflow/internal/core/id"
	"stockflow/internal/domain/events"
	"stockflow/internal/infrastructure/messaging"
)

// claimLease hides fetched messages from concurrent relays while they are handled.
const claimLease = 30 * time.Second

var (
	_ events.Publisher = (*Outbox)(nil)
	_ messaging.Source = (*Outbox)(nil)
)

// Outbox writes domain events to sys_outbox inside the caller's transaction
// and serves them to the relay.
type Outbox struct {
	txManager *TxManager
}

// NewOutbox creates a new outbox.
func NewOutbox(txManager *TxManager) *Outbox {
	return &Outbox{txManager: txManager}
}

// Publish implements events.Publisher.
// MUST be called inside a transaction context.
func (o *Outbox) Publish(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	tx := o.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	queries := make([]batchQuery, 0, len(evs))
	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		created := e.OccurredAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		queries = append(queries, batchQuery{
			SQL: `
				INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			Args: []any{id.New(), e.AggregateType, e.AggregateID, e.Type, payload, messaging.StatusPending, created},
		})
	}

	if err := execBatch(ctx, tx.Tx, queries); err != nil {
		return fmt.Errorf("insert outbox messages: %w", err)
	}
	return nil
}

// FetchPending implements messaging.Source. Claimed rows get a short lease
// so concurrent relays skip them.
func (o *Outbox) FetchPending(ctx context.Context, limit int) ([]*messaging.Message, error) {
	var msgs []*messaging.Message
	err := pgxscan.Select(ctx, o.txManager.GetQuerier(ctx), &msgs, `
		WITH due AS (
			SELECT id FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sys_outbox o
		SET next_retry_at = NOW() + make_interval(secs => $3)
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.status,
		          o.retry_count, o.last_error, o.next_retry_at, o.created_at, o.published_at`,
		messaging.StatusPending, limit, claimLease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch outbox messages: %w", err)
	}
	return msgs, nil
}

// MarkPublished implements messaging.Source.
func (o *Outbox) MarkPublished(ctx context.Context, msgID id.ID) error {
	_, err := o.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2, next_retry_at = NULL
		WHERE id = $3`, messaging.StatusPublished, time.Now().UTC(), msgID)
	if err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return nil
}

// MarkFailed implements messaging.Source.
func (o *Outbox) MarkFailed(ctx context.Context, msgID id.ID, cause error, nextRetry time.Time, maxRetries int) error {
	_, err := o.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = retry_count + 1,
		    last_error = $1,
		    next_retry_at = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $5`, cause.Error(), nextRetry, maxRetries, messaging.StatusFailed, msgID)
	if err != nil {
		return fmt.Errorf("mark outbox message failed: %w", err)
	}
	return nil
}

// DeletePublished implements messaging.Source.
func (o *Outbox) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	result, err := o.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_outbox WHERE status = $1 AND published_at < $2`,
		messaging.StatusPublished, before)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// MoveToDLQ moves messages parked as failed to the dead letter table.
func (o *Outbox) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := o.txManager.GetQuerier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, failed_at)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, NOW()
		FROM moved`, messaging.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}
	return result.RowsAffected(), nil
}
