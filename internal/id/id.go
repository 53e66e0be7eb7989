// Package id generates identifiers for persisted entities and ephemeral batches.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for persisted entities.
const (
	PrefixRequest = "req"
	PrefixUser    = "user"
	PrefixToken   = "token"
)

// Generate creates a prefixed NanoID, e.g. "req-V1StGXR8_Z5jdHi6B-myT".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics when the system has no entropy.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// NewBatchID returns an identifier for an import batch or a notification event.
// These are never stored as primary keys, so a plain UUIDv4 is enough.
func NewBatchID() string {
	return uuid.NewString()
}
