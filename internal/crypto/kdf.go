package crypto

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

// Domain separation labels, fixed per spec §4.2. Every KDF invocation
// mixes in exactly one of these as the Argon2 "associated data" analogue
// (folded into the salt material below) and, where an HKDF stream is
// derived downstream of the KDF, as the HKDF info parameter.
const (
	LabelMaster  = "mfs/master"
	LabelFile    = "mfs/file"
	LabelTable   = "mfs/table"
	LabelMachine = "mfs/machine"
)

// DeriveKey runs Argon2id over secret and salt, mixing label into the
// salt so the same (secret, salt) pair produces different keys for
// different purposes. Parameters come from the volume header so older
// volumes remain openable after the library's own defaults change
// (spec §9).
func DeriveKey(secret, salt []byte, label string, p kdfparams.Params) ([]byte, error) {
	saltedLabel := make([]byte, 0, len(salt)+len(label))
	saltedLabel = append(saltedLabel, salt...)
	saltedLabel = append(saltedLabel, []byte(label)...)

	key := argon2.IDKey(secret, saltedLabel, p.Iterations, uint32(p.MemoryKiB), uint8(p.Parallelism), kdfparams.KeySize)

	if bytes.Equal(key, make([]byte, kdfparams.KeySize)) {
		return nil, errors.New("argon2: produced an all-zero key")
	}
	return key, nil
}

// NewHKDFStream derives a keyed stream of subkey material from a
// caller-chosen key, used to derive the Serpent wrapping key for
// wrapped file keys without a second Argon2 pass.
func NewHKDFStream(key, salt []byte, label string) io.Reader {
	return hkdf.New(sha3.New256, key, salt, []byte(label))
}

// ReadSubkey reads n bytes of subkey material from an HKDF stream.
func ReadSubkey(stream io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(stream, b); err != nil {
		return nil, errors.New("hkdf: short read deriving subkey")
	}
	return b, nil
}
