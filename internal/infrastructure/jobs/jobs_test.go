package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/id"
	"stockflow/internal/infrastructure/idempotency"
	"stockflow/internal/infrastructure/messaging"
	"stockflow/pkg/logger"
)

type fakeReconciler struct {
	limit int
	n     int
	err   error
}

func (f *fakeReconciler) Reconcile(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.n, f.err
}

type fakeSource struct {
	deletedBefore time.Time
	moved         int64
}

func (f *fakeSource) FetchPending(context.Context, int) ([]*messaging.Message, error) { return nil, nil }
func (f *fakeSource) MarkPublished(context.Context, id.ID) error { return nil }
func (f *fakeSource) MarkFailed(context.Context, id.ID, error, time.Time, int) error { return nil }
func (f *fakeSource) DeletePublished(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = before
	return 3, nil
}
func (f *fakeSource) MoveToDLQ(context.Context) (int64, error) {
	f.moved++
	return 1, nil
}

func TestScheduler_RunNowObserves(t *testing.T) {
	type run struct {
		job string
		err error
	}
	var runs []run
	s := NewScheduler(logger.NewNop(), WithObserver(func(job string, err error) {
		runs = append(runs, run{job, err})
	}))

	boom := errors.New("boom")
	assert.NoError(t, s.RunNow("ok", func(context.Context) error { return nil }))
	assert.ErrorIs(t, s.RunNow("bad", func(context.Context) error { return boom }), boom)

	require.Len(t, runs, 2)
	assert.Equal(t, run{"ok", nil}, runs[0])
	assert.Equal(t, "bad", runs[1].job)
	assert.ErrorIs(t, runs[1].err, boom)
}

func TestScheduler_RunHasDeadline(t *testing.T) {
	s := NewScheduler(logger.NewNop(), WithTimeout(time.Second))
	require.NoError(t, s.RunNow("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	}))
}

func TestScheduler_AddRejectsBadSpec(t *testing.T) {
	s := NewScheduler(logger.NewNop())
	assert.Error(t, s.Add("bad", "not a spec", func(context.Context) error { return nil }))
	assert.NoError(t, s.Add("good", Every(time.Minute), func(context.Context) error { return nil }))
	assert.NoError(t, s.Add("nightly", "0 3 * * *", func(context.Context) error { return nil }))
}

func TestScheduler_StartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := NewScheduler(logger.NewNop())
	require.NoError(t, s.Add("tick", Every(time.Second), func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", Every(5*time.Second))
	assert.Equal(t, "@every 1m0s", Every(time.Minute))
}

func TestReconcileOrders(t *testing.T) {
	r := &fakeReconciler{n: 2}
	require.NoError(t, ReconcileOrders(r, 50)(context.Background()))
	assert.Equal(t, 50, r.limit)

	r.err = errors.New("db down")
	assert.Error(t, ReconcileOrders(r, 50)(context.Background()))
}

func TestOutboxCleanup(t *testing.T) {
	src := &fakeSource{}
	relay := messaging.NewRelay(src, messaging.HandlerFunc(func(context.Context, *messaging.Message) error { return nil }))

	before := time.Now()
	require.NoError(t, OutboxCleanup(relay, src, time.Hour)(context.Background()))
	assert.WithinDuration(t, before.Add(-time.Hour), src.deletedBefore, time.Minute)
	assert.Equal(t, int64(1), src.moved)
}

func TestIdempotencyCleanup(t *testing.T) {
	store := idempotency.NewMemoryStore(-time.Second)
	_, err := store.Acquire(context.Background(), idempotency.Request{Key: "k"})
	require.NoError(t, err)

	require.NoError(t, IdempotencyCleanup(store)(context.Background()))

	replay, err := store.Acquire(context.Background(), idempotency.Request{Key: "k"})
	require.NoError(t, err)
	assert.Nil(t, replay, "expired key was removed")
}

func TestOutboxRelayJob(t *testing.T) {
	src := &fakeSource{}
	relay := messaging.NewRelay(src, messaging.HandlerFunc(func(context.Context, *messaging.Message) error { return nil }))
	assert.NoError(t, OutboxRelay(relay)(context.Background()))
}
