// Package id provides utilities for generating unique identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Generate returns a random 6-character hex ID.
// Used for internal, non-wire handles (e.g. pending-handler tokens) that are
// never compared against an envelope's correlation id.
func Generate() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewEnvelopeID returns a fresh correlation id for an outbound envelope.
// A UUID is the canonical choice here: unlike Generate, this value crosses
// the wire and must stay unique across every peer on the bus, not just
// within one process.
func NewEnvelopeID() string {
	return uuid.New().String()
}
