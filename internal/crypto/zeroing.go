package crypto

import "crypto/subtle"

// SecureZero overwrites b with zeros to reduce the window key material
// is recoverable from memory after a VolumeOpen session ends (spec §4.4,
// §5). subtle.ConstantTimeCopy prevents the compiler from eliding the
// write as dead code.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros every slice given.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// KeyMaterial wraps a sensitive byte slice with explicit, idempotent
// zeroing on Close.
type KeyMaterial struct {
	data   []byte
	closed bool
}

// NewKeyMaterial copies data into an owned KeyMaterial.
func NewKeyMaterial(data []byte) *KeyMaterial {
	if data == nil {
		return &KeyMaterial{}
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return &KeyMaterial{data: copied}
}

// Bytes returns the key data, or nil once closed.
func (km *KeyMaterial) Bytes() []byte {
	if km.closed {
		return nil
	}
	return km.data
}

// Close zeros the key data and marks the KeyMaterial closed.
func (km *KeyMaterial) Close() {
	if km.closed || km.data == nil {
		return
	}
	SecureZero(km.data)
	km.data = nil
	km.closed = true
}
