package crypto

import (
	"crypto/sha256"
	"io"
)

// DigestSize is the output size of the content digest (spec §4.2: SHA-256
// or stronger).
const DigestSize = sha256.Size

// ContentDigest streams r through SHA-256 without buffering the whole
// plaintext, used by Import/Export and the integrity monitor (spec §5:
// "streamed where possible").
func ContentDigest(r io.Reader) ([DigestSize]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		var zero [DigestSize]byte
		return zero, err
	}
	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
