package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

func testParams() kdfparams.Params {
	return kdfparams.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}
}

func newTestVolume(t *testing.T) (*Volume, string, string) {
	t.Helper()
	dir := t.TempDir()
	containerPath := filepath.Join(dir, "test.DRI")
	sidecarPath := filepath.Join(dir, "test.IXF")

	require.NoError(t, Format(containerPath, sidecarPath, "master-secret", testParams()))

	v, err := Open(containerPath, sidecarPath, "master-secret", OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	return v, containerPath, sidecarPath
}

func TestFormatThenOpenRoundTrip(t *testing.T) {
	v, containerPath, sidecarPath := newTestVolume(t)
	require.Equal(t, containerPath, v.ContainerPath())
	require.Equal(t, sidecarPath, v.SidecarPath())
	require.Empty(t, v.List(true))
}

func TestOpenWithWrongMasterSecretFails(t *testing.T) {
	dir := t.TempDir()
	containerPath := filepath.Join(dir, "test.DRI")
	sidecarPath := filepath.Join(dir, "test.IXF")
	require.NoError(t, Format(containerPath, sidecarPath, "right-secret", testParams()))

	_, err := Open(containerPath, sidecarPath, "wrong-secret", OpenOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, merrors.ErrAuthFailed))
	require.False(t, errors.Is(err, merrors.ErrUnrecoverable))
}

func TestImportExportUnprotected(t *testing.T) {
	v, _, _ := newTestVolume(t)

	plaintext := []byte("hello myfs")
	entry, err := v.Import(bytes.NewReader(plaintext), "greeting.txt", "")
	require.NoError(t, err)
	require.False(t, entry.Protected)
	require.Equal(t, int64(len(plaintext)), entry.OriginalSize)

	var out bytes.Buffer
	require.NoError(t, v.Export("greeting.txt", "", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())
}

func TestImportExportProtectedRequiresSecret(t *testing.T) {
	v, _, _ := newTestVolume(t)

	plaintext := []byte("top secret payload")
	_, err := v.Import(bytes.NewReader(plaintext), "secret.bin", "file-secret")
	require.NoError(t, err)

	var out bytes.Buffer
	err = v.Export("secret.bin", "wrong-file-secret", &out, ExportNormal)
	require.ErrorIs(t, err, merrors.ErrAuthFailed)

	out.Reset()
	require.NoError(t, v.Export("secret.bin", "file-secret", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())
}

func TestExportRawEmbedsSaltAndMatchesNormalAfterDecrypt(t *testing.T) {
	v, _, _ := newTestVolume(t)
	plaintext := []byte("raw export contents")
	_, err := v.Import(bytes.NewReader(plaintext), "raw.bin", "file-secret")
	require.NoError(t, err)

	var raw bytes.Buffer
	require.NoError(t, v.Export("raw.bin", "file-secret", &raw, ExportRaw))
	require.True(t, raw.Len() > 8+16+crypto.NonceSize)

	saltLen := binary.BigEndian.Uint64(raw.Bytes()[:8])
	require.Equal(t, uint64(16), saltLen)
	salt := raw.Bytes()[8 : 8+16]
	blob := raw.Bytes()[8+16:]

	fileKey, err := crypto.DeriveKey([]byte("file-secret"), salt, crypto.LabelFile, testParams())
	require.NoError(t, err)
	nonce, ct := blob[:crypto.NonceSize], blob[crypto.NonceSize:]
	entries := v.List(false)
	require.Len(t, entries, 1)
	decrypted, err := crypto.Open(fileKey, nonce, ct, payloadAAD(v.Header().VolumeID[:], entries[0].ID))
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestImportDuplicateNameFails(t *testing.T) {
	v, _, _ := newTestVolume(t)
	_, err := v.Import(bytes.NewReader([]byte("a")), "dup.txt", "")
	require.NoError(t, err)
	_, err = v.Import(bytes.NewReader([]byte("b")), "dup.txt", "")
	require.ErrorIs(t, err, merrors.ErrNameTaken)
}

func TestSetAndChangeFileSecret(t *testing.T) {
	v, _, _ := newTestVolume(t)
	plaintext := []byte("protect me later")
	_, err := v.Import(bytes.NewReader(plaintext), "f.bin", "")
	require.NoError(t, err)

	require.NoError(t, v.SetFileSecret("f.bin", "secret1"))

	var out bytes.Buffer
	require.NoError(t, v.Export("f.bin", "secret1", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())

	require.NoError(t, v.ChangeFileSecret("f.bin", "secret1", "secret2"))

	out.Reset()
	err = v.Export("f.bin", "secret1", &out, ExportNormal)
	require.ErrorIs(t, err, merrors.ErrAuthFailed)

	out.Reset()
	require.NoError(t, v.Export("f.bin", "secret2", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())
}

func TestForceChangeFileSecretWithoutOldSecret(t *testing.T) {
	v, _, _ := newTestVolume(t)
	plaintext := []byte("admin override target")
	_, err := v.Import(bytes.NewReader(plaintext), "g.bin", "original-secret")
	require.NoError(t, err)

	require.NoError(t, v.ForceChangeFileSecret("g.bin", "new-secret"))

	var out bytes.Buffer
	require.NoError(t, v.Export("g.bin", "new-secret", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())
}

func TestSoftDeleteAndRecover(t *testing.T) {
	v, _, _ := newTestVolume(t)
	_, err := v.Import(bytes.NewReader([]byte("lifecycle")), "l.bin", "")
	require.NoError(t, err)

	require.NoError(t, v.SoftDelete("l.bin"))
	require.Empty(t, v.List(false))
	require.Len(t, v.List(true), 1)

	require.NoError(t, v.Recover("l.bin"))
	require.Len(t, v.List(false), 1)
}

func TestSoftDeleteNameReuseThenHardDeletePurge(t *testing.T) {
	v, _, _ := newTestVolume(t)
	_, err := v.Import(bytes.NewReader([]byte("lifecycle")), "l.bin", "")
	require.NoError(t, err)
	require.NoError(t, v.SoftDelete("l.bin"))

	_, err = v.Import(bytes.NewReader([]byte("reuse name")), "l.bin", "")
	require.NoError(t, err)
	require.Len(t, v.List(true), 2)

	require.NoError(t, v.HardDelete("l.bin"))
	report, err := v.Purge()
	require.NoError(t, err)
	require.NotEmpty(t, report.PurgedNames)
	require.True(t, report.BytesReclaimed > 0)
	require.Len(t, v.List(true), 1)
}

func TestHardDeleteRequiresRecoverFirst(t *testing.T) {
	v, _, _ := newTestVolume(t)
	_, err := v.Import(bytes.NewReader([]byte("lifecycle")), "l.bin", "")
	require.NoError(t, err)
	require.NoError(t, v.SoftDelete("l.bin"))

	err = v.HardDelete("l.bin")
	require.ErrorIs(t, err, merrors.ErrNotFound)

	require.NoError(t, v.Recover("l.bin"))
	require.NoError(t, v.HardDelete("l.bin"))
}

func TestChangeMasterSecretReencryptsWrappedKeys(t *testing.T) {
	v, containerPath, sidecarPath := newTestVolume(t)
	plaintext := []byte("protected under old master")
	_, err := v.Import(bytes.NewReader(plaintext), "p.bin", "file-secret")
	require.NoError(t, err)

	require.NoError(t, v.ChangeMasterSecret("new-master-secret"))
	require.NoError(t, v.Close())

	v2, err := Open(containerPath, sidecarPath, "new-master-secret", OpenOptions{})
	require.NoError(t, err)
	defer v2.Close()

	var out bytes.Buffer
	require.NoError(t, v2.Export("p.bin", "file-secret", &out, ExportNormal))
	require.Equal(t, plaintext, out.Bytes())

	_, err = Open(containerPath, sidecarPath, "master-secret", OpenOptions{})
	require.Error(t, err)
}

func TestRepairOnHealthyVolumeIsANoop(t *testing.T) {
	_, containerPath, sidecarPath := newTestVolume(t)
	report, err := Repair(containerPath, sidecarPath, "master-secret")
	require.NoError(t, err)
	require.False(t, report.ContainerHeaderRebuilt)
	require.False(t, report.TableRebuiltFromSidecar)
	require.Empty(t, report.LostEntries)
}
