// Package id provides identifier generation for all fulfillment entities.
// Identifiers are derived from UUIDv7, so they sort by creation time.
package id

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Business id prefixes.
const (
	PrefixOrder     = "ORD"
	PrefixPackage   = "PKG"
	PrefixReturn    = "RET"
	PrefixTransport = "TRN"
	PrefixBatch     = "BAT"
	PrefixItem      = "ITM"
)

// ID is a type alias for UUID, used for infrastructure records (audit, outbox).
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// NewBusiness returns "<prefix>-<unix millis>-<sequence+random>".
// The millisecond part is zero padded and the suffix starts with the UUIDv7
// in-process sequence, so ids generated by one process sort by creation order.
func NewBusiness(prefix string) string {
	u := New()
	var ms int64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | int64(u[i])
	}
	return fmt.Sprintf("%s-%013d-%s", prefix, ms, strings.ToUpper(hex.EncodeToString(u[6:10])))
}

// HasPrefix reports whether s looks like a business id with the given prefix.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix+"-")
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
