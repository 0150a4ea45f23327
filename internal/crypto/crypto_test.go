package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

func testParams() kdfparams.Params {
	// Small, fast parameters for tests - never used on a real volume.
	return kdfparams.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}
}

func TestDeriveKeyDeterministicAndLabelSeparated(t *testing.T) {
	secret := []byte("hunter2")
	salt := bytes.Repeat([]byte{0x42}, 16)
	p := testParams()

	k1, err := DeriveKey(secret, salt, LabelMaster, p)
	require.NoError(t, err)
	require.Len(t, k1, kdfparams.KeySize)

	k1b, err := DeriveKey(secret, salt, LabelMaster, p)
	require.NoError(t, err)
	require.Equal(t, k1, k1b, "same inputs must derive the same key")

	k2, err := DeriveKey(secret, salt, LabelFile, p)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2, "different domain labels must derive different keys")
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	nonce, err := RandomBytes(NonceSize)
	require.NoError(t, err)

	plaintext := []byte("hello world")
	aad := []byte("mfs/table")

	ct, err := Seal(key, nonce, plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	pt, err := Open(key, nonce, ct, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestOpenFailsOnWrongKeyOrTamperedCiphertext(t *testing.T) {
	key, _ := RandomBytes(KeySize)
	other, _ := RandomBytes(KeySize)
	nonce, _ := RandomBytes(NonceSize)
	ct, err := Seal(key, nonce, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	_, err = Open(other, nonce, ct, []byte("aad"))
	require.Error(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF
	_, err = Open(key, nonce, tampered, []byte("aad"))
	require.Error(t, err)
}

func TestWrapUnwrapFileKeyRoundTrip(t *testing.T) {
	masterKey, _ := RandomBytes(KeySize)
	fileKey, _ := RandomBytes(KeySize)
	volumeID, _ := RandomBytes(16)

	wrapped, err := WrapFileKey(masterKey, fileKey, volumeID)
	require.NoError(t, err)
	require.NotEqual(t, fileKey, wrapped)

	unwrapped, err := UnwrapFileKey(masterKey, wrapped, volumeID)
	require.NoError(t, err)
	require.Equal(t, fileKey, unwrapped)
}

func TestUnwrapFileKeyFailsOnWrongMasterKey(t *testing.T) {
	masterKey, _ := RandomBytes(KeySize)
	other, _ := RandomBytes(KeySize)
	fileKey, _ := RandomBytes(KeySize)
	volumeID, _ := RandomBytes(16)

	wrapped, err := WrapFileKey(masterKey, fileKey, volumeID)
	require.NoError(t, err)

	_, err = UnwrapFileKey(other, wrapped, volumeID)
	require.Error(t, err)
}

func TestContentDigestMatchesKnownVector(t *testing.T) {
	digest, err := ContentDigest(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde",
		bytesToHex(digest[:]),
	)
}

func TestMachineHMACDeterministic(t *testing.T) {
	fp := []byte("fingerprint-bytes")
	volumeID, _ := RandomBytes(16)
	p := testParams()

	h1, err := MachineHMAC(fp, volumeID, p)
	require.NoError(t, err)
	require.Len(t, h1, MACSize)

	h2, err := MachineHMAC(fp, volumeID, p)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	otherFP := []byte("different-fingerprint")
	h3, err := MachineHMAC(otherFP, volumeID, p)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func bytesToHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0F]
	}
	return string(out)
}
