package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/filetable"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// payloadAAD binds a sealed payload to the volume and the specific
// entry it belongs to (spec §4.2 "associated data binds each ciphertext
// to its logical role").
func payloadAAD(volumeID []byte, id uint64) []byte {
	out := make([]byte, 0, len(crypto.LabelFile)+8+len(volumeID))
	out = append(out, []byte(crypto.LabelFile)...)
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	out = append(out, idBytes...)
	out = append(out, volumeID...)
	return out
}

// readData returns the raw (nonce||ciphertext) blob addressed by loc.
func (v *Volume) readData(loc filetable.Locator) ([]byte, error) {
	if loc.Offset < 0 || loc.Length < 0 || loc.Offset+loc.Length > int64(len(v.dataRegion)) {
		return nil, fmt.Errorf("volume: locator %+v out of range of %d-byte data region", loc, len(v.dataRegion))
	}
	return v.dataRegion[loc.Offset : loc.Offset+loc.Length], nil
}

// appendData appends blob to the in-memory data region and returns the
// locator it now occupies.
func (v *Volume) appendData(blob []byte) filetable.Locator {
	offset := int64(len(v.dataRegion))
	v.dataRegion = append(v.dataRegion, blob...)
	return filetable.Locator{Offset: offset, Length: int64(len(blob))}
}

// transact snapshots the table and data-region length, runs mutate
// (which is expected to end with a call to v.Commit), and restores both
// to their pre-call state if anything failed - the all-or-nothing
// guarantee spec §7 requires of every mutating operation.
func (v *Volume) transact(mutate func() error) error {
	snapshot := v.table.Marshal()
	dataLen := len(v.dataRegion)

	if err := mutate(); err != nil {
		if restored, rerr := filetable.Unmarshal(snapshot); rerr == nil {
			v.table = restored
		}
		if dataLen <= len(v.dataRegion) {
			v.dataRegion = v.dataRegion[:dataLen]
		}
		return err
	}
	return nil
}

// resolveReadKey returns the key that opens e's payload given the
// caller-supplied file secret (spec §4.7 "Export"): the master key
// directly for unprotected entries, or the file key re-derived from the
// supplied secret for protected ones. A wrong secret simply produces
// the wrong key - AEAD open fails and the caller surfaces AuthFailed.
func (v *Volume) resolveReadKey(e *filetable.Entry, fileSecret string) ([]byte, error) {
	if !e.Protected {
		return v.masterKey, nil
	}
	if fileSecret == "" {
		return nil, fmt.Errorf("volume: file secret required for %q: %w", e.Name, merrors.ErrAuthFailed)
	}
	return crypto.DeriveKey([]byte(fileSecret), e.Salt[:], crypto.LabelFile, v.hdr.KDFParams)
}

// resolveMasterSideKey returns the key that opens e's payload using
// only master-key authority, unwrapping the stored file key when the
// entry is protected. Used by ForceChangeFileSecret and the integrity
// monitor, neither of which has (or needs) the file secret.
func (v *Volume) resolveMasterSideKey(e *filetable.Entry) ([]byte, error) {
	if !e.Protected {
		return v.masterKey, nil
	}
	return crypto.UnwrapFileKey(v.masterKey, e.WrappedKey, v.hdr.VolumeID[:])
}
