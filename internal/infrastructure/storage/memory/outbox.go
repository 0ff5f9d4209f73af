package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockflow/internal/core/id"
	"stockflow/internal/domain/events"
	"stockflow/internal/infrastructure/messaging"
)

// Outbox stores events in the transaction state, so they are dropped with it.
type Outbox struct{ s *Store }

// Publish implements events.Publisher.
func (o *Outbox) Publish(ctx context.Context, evs ...events.Event) error {
	msgs := make([]*messaging.Message, 0, len(evs))
	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		created := e.OccurredAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		msgs = append(msgs, &messaging.Message{
			ID:            id.New(),
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     e.Type,
			Payload:       payload,
			Status:        messaging.StatusPending,
			CreatedAt:     created,
		})
	}
	return o.s.mutate(ctx, func(st *state) error {
		st.outbox = append(st.outbox, msgs...)
		return nil
	})
}

// FetchPending implements messaging.Source.
func (o *Outbox) FetchPending(ctx context.Context, limit int) ([]*messaging.Message, error) {
	now := time.Now()
	var out []*messaging.Message
	err := o.s.view(ctx, func(st *state) error {
		for _, m := range st.outbox {
			if m.Status != messaging.StatusPending {
				continue
			}
			if m.NextRetryAt != nil && m.NextRetryAt.After(now) {
				continue
			}
			cp := *m
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// MarkPublished implements messaging.Source.
func (o *Outbox) MarkPublished(ctx context.Context, msgID id.ID) error {
	return o.update(ctx, msgID, func(m *messaging.Message) {
		now := time.Now().UTC()
		m.Status = messaging.StatusPublished
		m.PublishedAt = &now
	})
}

// MarkFailed implements messaging.Source.
func (o *Outbox) MarkFailed(ctx context.Context, msgID id.ID, cause error, nextRetry time.Time, maxRetries int) error {
	return o.update(ctx, msgID, func(m *messaging.Message) {
		m.RetryCount++
		errStr := cause.Error()
		m.LastError = &errStr
		m.NextRetryAt = &nextRetry
		if m.RetryCount >= maxRetries {
			m.Status = messaging.StatusFailed
		}
	})
}

// DeletePublished implements messaging.Source.
func (o *Outbox) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := o.s.mutate(ctx, func(st *state) error {
		kept := st.outbox[:0]
		for _, m := range st.outbox {
			if m.Status == messaging.StatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		st.outbox = kept
		return nil
	})
	return n, err
}

// Messages returns a copy of every stored message. Used in tests.
func (o *Outbox) Messages() []messaging.Message {
	var out []messaging.Message
	_ = o.s.view(context.Background(), func(st *state) error {
		for _, m := range st.outbox {
			out = append(out, *m)
		}
		return nil
	})
	return out
}

func (o *Outbox) update(ctx context.Context, msgID id.ID, fn func(m *messaging.Message)) error {
	return o.s.mutate(ctx, func(st *state) error {
		for _, m := range st.outbox {
			if m.ID == msgID {
				fn(m)
				return nil
			}
		}
		return fmt.Errorf("outbox message %s not found", msgID)
	})
}
