package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/security"
	"stockflow/internal/infrastructure/http/v1/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handlers ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"app error", apperror.NewNotFound("package", "PKG-1"), http.StatusNotFound, apperror.CodeNotFound, "package not found"},
		{"wrapped app error", errors.Join(errors.New("ctx"), apperror.NewAlreadyPacked("PKG-1")), http.StatusBadRequest, apperror.CodeAlreadyPacked, "package PKG-1 is already packed"},
		{"plain error", errors.New("db exploded"), http.StatusInternalServerError, apperror.CodeInternal, "Internal server error"},
		{"internal app error", apperror.NewDatabase("update", errors.New("conn reset")), http.StatusInternalServerError, apperror.CodeDatabase, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, func(c *gin.Context) { _ = c.Error(tt.err) })
			require.Equal(t, tt.status, w.Code)

			var body dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Message)
			assert.NotContains(t, w.Body.String(), "exploded")
			assert.NotContains(t, w.Body.String(), "conn reset")
		})
	}
}

func TestRecovery(t *testing.T) {
	// Recovery is registered first, as in the router, with ErrorHandler inside it.
	r := gin.New()
	r.Use(Recovery(), RequestContext(), ErrorHandler())
	r.GET("/x", func(*gin.Context) { panic("boom") })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-9")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Contains(t, w.Body.String(), `"request_id":"req-9"`)
	assert.Contains(t, w.Body.String(), apperror.CodeInternal)
}

func TestRequirePermission(t *testing.T) {
	withUser := func(u *appctx.UserContext) gin.HandlerFunc {
		return func(c *gin.Context) {
			if u != nil {
				setUser(c, u)
			}
		}
	}
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	tests := []struct {
		name   string
		user   *appctx.UserContext
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"support", &appctx.UserContext{UserID: "u", Roles: []string{security.RoleSupport}}, http.StatusForbidden},
		{"manager", &appctx.UserContext{UserID: "u", Roles: []string{security.RoleManager}}, http.StatusNoContent},
		{"admin flag", &appctx.UserContext{UserID: "u", IsAdmin: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, withUser(tt.user), RequirePermission(security.PermReturnProcess), ok)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	transporter := StaticUser(appctx.UserContext{UserID: "t", Roles: []string{security.RoleTransporter}})

	assert.Equal(t, http.StatusNoContent, serve(t, transporter, RequireRole(security.RoleTransporter), ok).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, transporter, RequireRole(security.RoleManager), ok).Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"), "one token refilled")

	now = now.Add(time.Hour)
	rl.Allow("c")
	rl.mu.Lock()
	_, kept := rl.clients["a"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle clients are swept")
}
