// Package kdfparams describes the Argon2id cost parameters recorded in a
// MyFS volume header, so a later reader can reproduce the same derived
// key even after the library's own defaults change.
package kdfparams

// Params are the three Argon2id cost knobs, stored verbatim in the
// header's KDF fields (spec §6: memory cost 8 bytes, iterations 4
// bytes, parallelism 4 bytes, all big-endian).
type Params struct {
	MemoryKiB   uint64 // Argon2 "memory" parameter, in KiB
	Iterations  uint32
	Parallelism uint32
}

// DefaultParams mirrors the teacher's "normal mode" Argon2 constants
// (internal/crypto/kdf.go: 4 passes, 1 GiB, 4 threads), expressed as a
// reproducible, header-stored Params instead of a hardcoded preset.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   1 << 20, // 1 GiB
		Iterations:  4,
		Parallelism: 4,
	}
}

// KeySize is the derived key length in bytes for every KDF invocation
// in MyFS (master key, file keys, machine-binding key).
const KeySize = 32
