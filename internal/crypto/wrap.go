package crypto

import (
	"crypto/cipher"
	"fmt"

	"github.com/Picocrypt/serpent"
)

// wrapInfo is the HKDF info string mixed in when deriving the Serpent
// wrapping key and IV for a wrapped file key, keeping it domain-separated
// from every other subkey derived off the master key.
const wrapInfo = "mfs/wrap"

// WrapFileKey seals a 32-byte per-file key under the master key for
// storage in the entry's wrapped-file-key field (spec §3, §4.7). The key
// is first passed through a Serpent-CTR layer keyed by an HKDF subkey of
// the master key, then sealed with AEAD under the master key - the
// small-fixed-size analogue of the teacher's bulk-data cascade
// (internal/crypto/cipher.go), applied here to a single 32-byte secret
// rather than a whole payload.
func WrapFileKey(masterKey, fileKey, volumeID []byte) ([]byte, error) {
	if len(fileKey) != KeySize {
		return nil, fmt.Errorf("wrap: file key must be %d bytes", KeySize)
	}

	stream := NewHKDFStream(masterKey, volumeID, wrapInfo)
	serpentKey, err := ReadSubkey(stream, KeySize)
	if err != nil {
		return nil, err
	}
	block, err := serpent.NewCipher(serpentKey)
	if err != nil {
		return nil, fmt.Errorf("wrap: serpent init: %w", err)
	}
	iv, err := ReadSubkey(stream, block.BlockSize())
	if err != nil {
		return nil, err
	}

	masked := make([]byte, len(fileKey))
	cipher.NewCTR(block, iv).XORKeyStream(masked, fileKey)

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	sealed, err := Seal(masterKey, nonce, masked, []byte("mfs/wrapped-key"))
	if err != nil {
		return nil, err
	}
	return append(nonce, sealed...), nil
}

// UnwrapFileKey reverses WrapFileKey. Any failure (wrong master key,
// tampered wrapped blob) is surfaced uniformly to the caller, which maps
// it to AuthFailed per spec §7.
func UnwrapFileKey(masterKey, wrapped, volumeID []byte) ([]byte, error) {
	if len(wrapped) < NonceSize {
		return nil, fmt.Errorf("wrap: wrapped key too short")
	}
	nonce, sealed := wrapped[:NonceSize], wrapped[NonceSize:]
	masked, err := Open(masterKey, nonce, sealed, []byte("mfs/wrapped-key"))
	if err != nil {
		return nil, err
	}

	stream := NewHKDFStream(masterKey, volumeID, wrapInfo)
	serpentKey, err := ReadSubkey(stream, KeySize)
	if err != nil {
		return nil, err
	}
	block, err := serpent.NewCipher(serpentKey)
	if err != nil {
		return nil, fmt.Errorf("wrap: serpent init: %w", err)
	}
	iv, err := ReadSubkey(stream, block.BlockSize())
	if err != nil {
		return nil, err
	}

	fileKey := make([]byte, len(masked))
	cipher.NewCTR(block, iv).XORKeyStream(fileKey, masked)
	return fileKey, nil
}
