// Package crypto provides the cryptographic primitives layer (L1) for
// MyFS: AEAD sealing/opening, the Argon2id KDF, HMAC, content digests,
// and a CSPRNG wrapper. This is audit-critical code - changes here
// directly affect the on-disk format and every stored ciphertext.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// RandomBytes returns n cryptographically secure random bytes. Used for
// salts, nonces, volume identifiers, and file-entry salts (spec §4.2).
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto/rand: %w", err)
	}

	allZero := true
	for _, v := range b {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, errors.New("crypto/rand: produced an all-zero buffer")
	}

	return b, nil
}
