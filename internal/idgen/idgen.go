// Package idgen generates identifiers for decisions, verifications and incidents.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes for record identifiers.
const (
	PrefixDecision     = "dec_"
	PrefixVerification = "ver_"
	PrefixIncident     = "inc_"
)

// Generator produces unique identifiers. Tests substitute a deterministic one.
type Generator interface {
	New(prefix string) string
}

// UUID is the default Generator, backed by random (v4) UUIDs.
type UUID struct{}

// New returns prefix followed by a dashless UUID.
func (UUID) New(prefix string) string {
	return WithPrefix(prefix)
}

// New generates a random UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "dec_", "inc_").
// Result is prefix + 32 hex chars.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id is prefix followed by 32 hex chars.
func Valid(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
