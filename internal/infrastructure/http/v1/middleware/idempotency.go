package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/infrastructure/idempotency"
	"stockflow/pkg/logger"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderReplayed       = "X-Idempotent-Replay"

	keyIdempotencyKey   = "idempotency_key"
	keyIdempotencyStore = "idempotency_store"
)

const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

// Idempotency middleware protects against duplicate requests.
// Applies to POST/PUT/PATCH carrying X-Idempotency-Key; must run after Auth
// so keys are scoped to the caller.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > 255 {
			_ = c.Error(apperror.NewValidation("idempotency key too long").WithDetail("max_length", 255))
			c.Abort()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewValidation("cannot read request body").WithCause(err))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			_ = c.Error(apperror.NewPayloadTooLarge(maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		replay, err := store.Acquire(ctx, idempotency.Request{
			Key:       key,
			UserID:    appctx.GetUserID(ctx),
			Operation: c.Request.Method + " " + c.FullPath(),
			Hash:      idempotency.Fingerprint(body),
		})
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		if replay != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(keyIdempotencyKey, key)
		c.Set(keyIdempotencyStore, store)

		rec := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = rec

		c.Next()

		c.Writer = rec.ResponseWriter

		// Errors are rendered and stored by ErrorHandler.
		if len(c.Errors) > 0 && !rec.Written() {
			return
		}

		resp := idempotency.Replay{
			StatusCode:  rec.Status(),
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if resp.StatusCode >= http.StatusBadRequest {
			err = store.Fail(ctx, key, resp)
		} else {
			err = store.Complete(ctx, key, resp)
		}
		if err != nil {
			logger.Warn(ctx, "idempotency: store response failed", "key", key, "error", err)
		}
	}
}

// failIdempotency records an error response for the key owned by this request.
func failIdempotency(c *gin.Context, status int, contentType string, body []byte) {
	key := c.GetString(keyIdempotencyKey)
	if key == "" {
		return
	}
	v, ok := c.Get(keyIdempotencyStore)
	if !ok {
		return
	}
	store, ok := v.(idempotency.Store)
	if !ok || store == nil {
		return
	}
	resp := idempotency.Replay{StatusCode: status, ContentType: contentType, Body: body}
	if err := store.Fail(c.Request.Context(), key, resp); err != nil {
		logger.Warn(c.Request.Context(), "idempotency: store failure failed", "key", key, "error", err)
	}
}

// responseRecorder keeps a copy of the response body for replay.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
