// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/pkg/logger"
)

// Recovery turns a handler panic into a 500. It is the outermost middleware,
// so it renders the error body itself; the panic value and stack are logged
// and never sent to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "handler panicked",
				"panic", rec,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			c.Abort()
			if c.Writer.Written() {
				return
			}
			writeError(c, apperror.NewInternal(fmt.Errorf("panic: %v", rec)))
		}()
		c.Next()
	}
}
