package crypto

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize and KeySize pin the AEAD parameters spec §4.2 requires:
// 256-bit keys, 96-bit nonces, via the standard (non-extended) ChaCha20-
// Poly1305 construction.
const (
	NonceSize = chacha20poly1305.NonceSize // 12 bytes == 96 bits
	KeySize   = chacha20poly1305.KeySize   // 32 bytes == 256 bits
)

// Seal authenticates and encrypts plaintext under key and nonce, binding
// aad as associated data. The nonce must never repeat under the same
// key (spec §4.2); callers must draw it fresh from RandomBytes per seal.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: init: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open verifies and decrypts ciphertext under key and nonce with the
// given associated data. Any failure (wrong key, tampered ciphertext,
// mismatched aad) returns a single opaque error - the caller maps this
// to AuthFailed or IntegrityFailed per spec §7, never distinguishing
// the cause here.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: init: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}
