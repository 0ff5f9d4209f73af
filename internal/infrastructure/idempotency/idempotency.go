// Package idempotency stores the outcome of mutating requests keyed by the
// client's idempotency key so retries replay the first response.
package idempotency

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"

	"stockflow/internal/core/apperror"
)

// Status represents the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StaleAfter is how long a pending key may stay unfinished before another
// request with the same key may reclaim it.
const StaleAfter = time.Minute

// Request identifies one idempotent call.
type Request struct {
	Key       string
	UserID    string
	Operation string
	Hash      string
}

// Replay is the cached HTTP response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Record is the stored state of a key.
type Record struct {
	Key         string    `json:"key"`
	UserID      string    `json:"userId"`
	Operation   string    `json:"operation"`
	Status      Status    `json:"status"`
	RequestHash string    `json:"requestHash"`
	Response    []byte    `json:"response,omitempty"`
	StatusCode  int       `json:"statusCode,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store manages idempotency keys.
type Store interface {
	// Acquire returns (nil, nil) when the caller owns the key, a Replay when
	// the operation already finished, or an error when the key is in use or
	// was issued for a different request.
	Acquire(ctx context.Context, req Request) (*Replay, error)
	Complete(ctx context.Context, key string, resp Replay) error
	Fail(ctx context.Context, key string, resp Replay) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// Fingerprint hashes a request body with BLAKE2b-256.
func Fingerprint(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Resolve decides what Acquire returns for an existing record.
// It reports reclaim=true when a stale pending key may be taken over.
func Resolve(rec *Record, req Request, now time.Time) (replay *Replay, reclaim bool, err error) {
	if rec.UserID != req.UserID || rec.Operation != req.Operation || rec.RequestHash != req.Hash {
		return nil, false, apperror.NewIdempotencyMismatch(req.Key).
			WithDetail("stored_operation", rec.Operation).
			WithDetail("request_operation", req.Operation)
	}

	switch rec.Status {
	case StatusSuccess, StatusFailed:
		return &Replay{
			StatusCode:  normalizeStatus(rec.StatusCode),
			ContentType: normalizeContentType(rec.ContentType),
			Body:        rec.Response,
		}, false, nil
	case StatusPending:
		if now.Sub(rec.UpdatedAt) > StaleAfter {
			return nil, true, nil
		}
	}
	return nil, false, apperror.NewIdempotencyConflict(req.Key)
}

func normalizeStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}
