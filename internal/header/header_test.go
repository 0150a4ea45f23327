package header

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

func sampleHeader() *Header {
	h := &Header{
		Version:     CurrentVersion,
		KDFParams:   kdfparams.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1},
		TableOffset: 122,
		TableLength: 256,
		DataOffset:  378,
	}
	copy(h.VolumeID[:], []byte("0123456789abcdef"))
	copy(h.MasterSalt[:], []byte("fedcba9876543210"))
	copy(h.Nonce[:], []byte("abcdefghijkl"))
	return h
}

func TestBytesParseRoundTrip(t *testing.T) {
	h := sampleHeader()
	masterKey := make([]byte, 32)
	tag, err := ComputeTag(masterKey, h)
	require.NoError(t, err)
	copy(h.Tag[:], tag)

	b := h.Bytes()
	require.Len(t, b, FixedHeaderSize)

	parsed, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, h.VolumeID, parsed.VolumeID)
	require.Equal(t, h.MasterSalt, parsed.MasterSalt)
	require.Equal(t, h.KDFParams, parsed.KDFParams)
	require.Equal(t, h.TableOffset, parsed.TableOffset)
	require.Equal(t, h.TableLength, parsed.TableLength)
	require.Equal(t, h.DataOffset, parsed.DataOffset)

	ok, err := VerifyTag(masterKey, parsed)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyTagFailsOnWrongKeyOrTamper(t *testing.T) {
	h := sampleHeader()
	masterKey := make([]byte, 32)
	tag, err := ComputeTag(masterKey, h)
	require.NoError(t, err)
	copy(h.Tag[:], tag)

	otherKey := make([]byte, 32)
	otherKey[0] = 1
	ok, err := VerifyTag(otherKey, h)
	require.NoError(t, err)
	require.False(t, ok)

	h.VolumeID[0] ^= 0xFF
	ok, err = VerifyTag(masterKey, h)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseRejectsBadMagic(t *testing.T) {
	h := sampleHeader()
	b := h.Bytes()
	b[0] = 'X'
	_, err := Parse(b)
	require.Error(t, err)
}

func TestSidecarPrefixRoundTrip(t *testing.T) {
	h := sampleHeader()
	prefix := h.SidecarPrefix()
	require.Len(t, prefix, CryptoParamsSize)

	parsed, err := ParseSidecarPrefix(prefix)
	require.NoError(t, err)
	require.Equal(t, h.VolumeID, parsed.VolumeID)
	require.Equal(t, h.MasterSalt, parsed.MasterSalt)
	require.Equal(t, h.KDFParams, parsed.KDFParams)
}
