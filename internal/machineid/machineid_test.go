package machineid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

func testParams() kdfparams.Params {
	return kdfparams.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	fp1, err := Fingerprint()
	require.NoError(t, err)
	fp2, err := Fingerprint()
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, 32)
}

func TestBindingRecordRoundTrip(t *testing.T) {
	var volumeID [16]byte
	copy(volumeID[:], []byte("0123456789abcdef"))
	fp, err := Fingerprint()
	require.NoError(t, err)

	rec, err := NewBindingRecord(volumeID, fp, testParams())
	require.NoError(t, err)

	parsed, err := ParseBindingRecord(rec.Bytes())
	require.NoError(t, err)
	require.Equal(t, rec.VolumeID, parsed.VolumeID)
	require.Equal(t, rec.MAC, parsed.MAC)

	ok, err := parsed.Verify(fp, testParams())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBindingRecordVerifyFailsOnDifferentMachine(t *testing.T) {
	var volumeID [16]byte
	copy(volumeID[:], []byte("0123456789abcdef"))
	fp, err := Fingerprint()
	require.NoError(t, err)

	rec, err := NewBindingRecord(volumeID, fp, testParams())
	require.NoError(t, err)

	divergent := append([]byte(nil), fp...)
	divergent[0] ^= 0xFF

	ok, err := rec.Verify(divergent, testParams())
	require.NoError(t, err)
	require.False(t, ok)
}
