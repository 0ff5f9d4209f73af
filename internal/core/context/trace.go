package context

import "context"

// Correlation ties a pipeline call to the request that made it. Audit
// entries and log lines carry it, so a disputed transition can be traced
// back to one HTTP call and, for retried calls, to its idempotency key.
type Correlation struct {
	TraceID        string
	RequestID      string
	IdempotencyKey string
}

type correlationKey struct{}

// WithCorrelation stores c on ctx.
func WithCorrelation(ctx context.Context, c *Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// GetCorrelation returns the request correlation, or nil outside a request.
func GetCorrelation(ctx context.Context) *Correlation {
	if v, ok := ctx.Value(correlationKey{}).(*Correlation); ok {
		return v
	}
	return nil
}

// AuditDetails returns the non-empty ids keyed as they appear in audit details.
func (c *Correlation) AuditDetails() map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any, 3)
	if c.RequestID != "" {
		out["request_id"] = c.RequestID
	}
	if c.TraceID != "" {
		out["trace_id"] = c.TraceID
	}
	if c.IdempotencyKey != "" {
		out["idempotency_key"] = c.IdempotencyKey
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LogFields returns the ids as zap-style key/value pairs.
func (c *Correlation) LogFields() []any {
	if c == nil {
		return nil
	}
	fields := []any{"trace_id", c.TraceID, "request_id", c.RequestID}
	if c.IdempotencyKey != "" {
		fields = append(fields, "idempotency_key", c.IdempotencyKey)
	}
	return fields
}
