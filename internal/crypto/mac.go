package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
)

// MACSize is the HMAC-SHA-256 output size used for machine-binding
// tokens (spec §6: "32 bytes HMAC-SHA-256").
const MACSize = sha256.Size

// MachineHMAC computes HMAC-SHA-256(volumeID) keyed by a key derived
// from the machine fingerprint, per spec §4.3/§6. The fingerprint never
// appears in the clear on disk - only this HMAC does.
func MachineHMAC(fingerprint, volumeID []byte, p kdfparams.Params) ([]byte, error) {
	key, err := DeriveKey(fingerprint, volumeID, LabelMachine, p)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(volumeID)
	return mac.Sum(nil), nil
}
