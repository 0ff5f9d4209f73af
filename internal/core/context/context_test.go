package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActor(t *testing.T) {
	assert.Equal(t, SystemActor, Actor(context.Background()))

	ctx := WithUser(context.Background(), &UserContext{UserID: "U1"})
	assert.Equal(t, "U1", Actor(ctx))
	assert.Equal(t, "U1", GetUserID(ctx))
}

func TestSystem(t *testing.T) {
	ctx := WithUser(context.Background(), System())
	assert.Equal(t, SystemActor, GetUserID(ctx))
	assert.True(t, GetUser(ctx).IsAdmin)
	assert.True(t, HasRole(ctx, "admin"))
}

func TestCorrelation(t *testing.T) {
	assert.Nil(t, GetCorrelation(context.Background()))
	assert.Nil(t, GetCorrelation(context.Background()).AuditDetails())
	assert.Nil(t, (&Correlation{}).AuditDetails())

	c := &Correlation{TraceID: "t", RequestID: "r"}
	ctx := WithCorrelation(context.Background(), c)
	assert.Same(t, c, GetCorrelation(ctx))
	assert.Equal(t, map[string]any{"trace_id": "t", "request_id": "r"}, c.AuditDetails())
	assert.Equal(t, []any{"trace_id", "t", "request_id", "r"}, c.LogFields())

	c.IdempotencyKey = "k"
	assert.Equal(t, []any{"trace_id", "t", "request_id", "r", "idempotency_key", "k"}, c.LogFields())
}
