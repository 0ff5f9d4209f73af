package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/audit"
	"stockflow/internal/infrastructure/messaging"
)

func TestAuditOptions(t *testing.T) {
	reg := New()
	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(sink, reg.AuditOptions()...)

	rec.Record(context.Background(),
		audit.Entry{Action: "package.packed", EntityType: audit.EntityPackage, EntityID: "PKG-1"},
		audit.Entry{Action: "item.packed", EntityType: audit.EntityItem, EntityID: "ITM-1"},
		audit.Entry{Action: "item.packed", EntityType: audit.EntityItem, EntityID: "ITM-2"},
	)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.transitions.WithLabelValues(audit.EntityItem, "item.packed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.transitions.WithLabelValues(audit.EntityPackage, "package.packed")))

	sink.FailWith(errors.New("down"))
	rec.Record(context.Background(), audit.Entry{Action: "order.placed", EntityType: audit.EntityOrder, EntityID: "ORD-1"})
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.auditFailures))
}

func TestObserve(t *testing.T) {
	reg := New()
	reg.ObserveHTTP(http.MethodPost, "/package/status/:id", 400, 10*time.Millisecond)
	reg.ObserveHTTP(http.MethodGet, "", 404, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.httpRequests.WithLabelValues("POST", "/package/status/:id", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.httpRequests.WithLabelValues("GET", "unmatched", "404")))

	reg.ObserveOutbox(&messaging.Message{EventType: "package.packed"}, nil)
	reg.ObserveOutbox(&messaging.Message{EventType: "package.packed"}, errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.outboxMessages.WithLabelValues("package.packed", "failed")))

	reg.ObserveJob("reconcile", nil)
	reg.ObserveJob("reconcile", apperror.NewNotFound("order", "ORD-1"))
	reg.ObserveJob("reconcile", errors.New("db"))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.jobRuns.WithLabelValues("reconcile", apperror.CodeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.jobRuns.WithLabelValues("reconcile", "error")))
}

func TestHandler(t *testing.T) {
	reg := New()
	reg.ObserveJob("cleanup", nil)

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockflow_worker_job_runs_total{job="cleanup",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRegisterPool(t *testing.T) {
	reg := New()
	acquired := int32(3)
	reg.RegisterPool(func() PoolStats {
		return PoolStats{Total: 5, Acquired: acquired, Idle: 5 - acquired, Max: 25}
	})

	body := func() string {
		rec := httptest.NewRecorder()
		reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	assert.Contains(t, body(), "stockflow_db_pool_acquired_connections 3")
	assert.Contains(t, body(), "stockflow_db_pool_max_connections 25")

	acquired = 1
	assert.Contains(t, body(), "stockflow_db_pool_idle_connections 4")
}
