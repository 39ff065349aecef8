// Package idgen generates identifiers and capability tokens for the autoscale
// control plane: time-ordered UUIDs for every persistent record (so ascending
// id order, required by the pagination contract, is also insertion order),
// and high-entropy opaque tokens for webhook capability hashes.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time-ordered (UUIDv7) identifier. Because UUIDv7 encodes a
// millisecond timestamp in its high bits, ids generated later sort greater
// than ids generated earlier — exactly the property the id-cursor pagination
// contract in §4.1/§6 relies on.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// crypto/rand failure; NewV7 only fails if the system RNG is broken.
		panic(fmt.Sprintf("idgen: generating uuidv7: %v", err))
	}
	return id
}

// capabilityBytes is the number of random bytes backing a capability hash:
// 32 bytes = 256 bits of entropy, comfortably over the spec's 128-bit floor.
const capabilityBytes = 32

// NewCapabilityHash returns an unguessable bearer token suitable for a
// webhook's capability.hash: a hex-encoded random string with no structure
// to exploit, matching the "opaque token, 128+ bits of entropy" requirement.
func NewCapabilityHash() (string, error) {
	b := make([]byte, capabilityBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating capability hash: %w", err)
	}
	return hex.EncodeToString(b), nil
}
