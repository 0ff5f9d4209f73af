package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/internal/infrastructure/http/v1/dto"
	"stockflow/pkg/logger"
)

const contentTypeJSON = "application/json; charset=utf-8"

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}
		writeError(c, c.Errors.Last().Err)
	}
}

// writeError renders err as the JSON error body and marks the idempotency
// key failed with the exact response.
func writeError(c *gin.Context, err error) {
	status, body := errorBody(c, err)

	raw, mErr := json.Marshal(body)
	if mErr != nil {
		raw = []byte(`{"message":"Internal server error","code":"` + apperror.CodeInternal + `"}`)
		status = http.StatusInternalServerError
	}

	failIdempotency(c, status, contentTypeJSON, raw)
	c.Data(status, contentTypeJSON, raw)
}

func errorBody(c *gin.Context, err error) (int, dto.ErrorResponse) {
	ctx := c.Request.Context()

	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil || appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error(ctx, "request error",
				"code", appErr.Code,
				"message", appErr.Message,
				"cause", appErr.Err,
			)
		}

		message := appErr.Message
		details := appErr.Details
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			message = "Internal server error"
			details = map[string]any{"request_id": c.GetString(KeyRequestID)}
		}
		return appErr.HTTPStatus, dto.ErrorResponse{
			Message: message,
			Code:    appErr.Code,
			Details: details,
		}
	}

	logger.Error(ctx, "unhandled error", "error", err)

	return http.StatusInternalServerError, dto.ErrorResponse{
		Message: "Internal server error",
		Code:    apperror.CodeInternal,
		Details: map[string]any{"request_id": c.GetString(KeyRequestID)},
	}
}
