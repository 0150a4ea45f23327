package volume

import (
	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/header"
)

// ChangeMasterSecret re-keys the entire volume under a freshly derived
// master key (spec §6 CLI surface "Change master secret"): every
// protected entry's wrapped file key is unwrapped under the old master
// key and rewrapped under the new one, the header's master salt and tag
// are rewritten, and the table is resealed - all inside one commit, so
// a crash midway leaves the old master secret valid (spec §7 "a crash
// before commit leaves the old state intact"). Every fallible step runs
// before any field of v is mutated, so a returned error always leaves v
// exactly as it was.
func (v *Volume) ChangeMasterSecret(newSecret string) error {
	newSalt, err := crypto.RandomBytes(16)
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveKey([]byte(newSecret), newSalt, crypto.LabelMaster, v.hdr.KDFParams)
	if err != nil {
		return err
	}

	rewrapped := make(map[uint64][]byte)
	for _, e := range v.table.List(true) {
		if !e.Protected {
			continue
		}
		fileKey, err := crypto.UnwrapFileKey(v.masterKey, e.WrappedKey, v.hdr.VolumeID[:])
		if err != nil {
			crypto.SecureZero(newKey)
			return err
		}
		wk, err := crypto.WrapFileKey(newKey, fileKey, v.hdr.VolumeID[:])
		crypto.SecureZero(fileKey)
		if err != nil {
			crypto.SecureZero(newKey)
			return err
		}
		rewrapped[e.ID] = wk
	}

	newHdr := *v.hdr
	copy(newHdr.MasterSalt[:], newSalt)
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		crypto.SecureZero(newKey)
		return err
	}
	copy(newHdr.Nonce[:], nonce)
	tag, err := header.ComputeTag(newKey, &newHdr)
	if err != nil {
		crypto.SecureZero(newKey)
		return err
	}
	copy(newHdr.Tag[:], tag)

	oldHdr := *v.hdr
	oldKey := v.masterKey

	err = v.transact(func() error {
		for _, e := range v.table.List(true) {
			if wk, ok := rewrapped[e.ID]; ok {
				e.WrappedKey = wk
			}
		}
		*v.hdr = newHdr
		v.masterKey = newKey
		return v.Commit()
	})
	if err != nil {
		*v.hdr = oldHdr
		v.masterKey = oldKey
		crypto.SecureZero(newKey)
		return err
	}

	crypto.SecureZero(oldKey)
	return nil
}
