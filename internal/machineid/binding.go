package machineid

import (
	"crypto/subtle"
	"fmt"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

// BindingRecord is the on-disk contents of the <container>.machine file
// (spec §6): the volume identifier followed by an HMAC-SHA-256 of it
// keyed by a key derived from the local machine fingerprint.
type BindingRecord struct {
	VolumeID [16]byte
	MAC      [crypto.MACSize]byte
}

// RecordSize is the binding record's fixed on-disk length.
const RecordSize = 16 + crypto.MACSize

// NewBindingRecord computes a binding record for volumeID on the current
// machine, using fingerprint and the volume's KDF parameters.
func NewBindingRecord(volumeID [16]byte, fingerprint []byte, p kdfparams.Params) (*BindingRecord, error) {
	mac, err := crypto.MachineHMAC(fingerprint, volumeID[:], p)
	if err != nil {
		return nil, err
	}
	rec := &BindingRecord{VolumeID: volumeID}
	copy(rec.MAC[:], mac)
	return rec, nil
}

// Bytes serializes the record to its 48-byte wire form.
func (r *BindingRecord) Bytes() []byte {
	out := make([]byte, 0, RecordSize)
	out = append(out, r.VolumeID[:]...)
	out = append(out, r.MAC[:]...)
	return out
}

// ParseBindingRecord decodes a 48-byte binding record.
func ParseBindingRecord(b []byte) (*BindingRecord, error) {
	if len(b) != RecordSize {
		return nil, fmt.Errorf("machineid: binding record must be %d bytes, got %d", RecordSize, len(b))
	}
	rec := &BindingRecord{}
	copy(rec.VolumeID[:], b[:16])
	copy(rec.MAC[:], b[16:])
	return rec, nil
}

// Verify recomputes the HMAC over the record's volume id with the given
// fingerprint and params and compares it in constant time against the
// stored MAC.
func (r *BindingRecord) Verify(fingerprint []byte, p kdfparams.Params) (bool, error) {
	want, err := crypto.MachineHMAC(fingerprint, r.VolumeID[:], p)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(want, r.MAC[:]) == 1, nil
}
