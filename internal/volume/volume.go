// Package volume implements the volume operations layer (L5) and, on an
// open Volume, the file operations layer (L6): create/format, open,
// commit, repair, import, export, secret management, soft-delete,
// recover, hard-delete, and purge (spec §4.6, §4.7).
//
// Mutation pipeline (generalizes the teacher's phased
// construct-context/mutate/finalize pattern, internal/volume/context.go,
// from "encrypt one payload" to "mutate the table and commit it to both
// copies"):
//  1. Mutate the in-memory table and/or data region.
//  2. Re-serialize and re-seal the table with a fresh nonce.
//  3. Write the container, fsync, then write the sidecar, fsync.
//  4. Report success only once both copies are durable.
package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hytong05/NT212-New-File-System/internal/byteio"
	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/filetable"
	"github.com/hytong05/NT212-New-File-System/internal/header"
	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
	"github.com/hytong05/NT212-New-File-System/internal/log"
	"github.com/hytong05/NT212-New-File-System/internal/machineid"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// initialTableCapacity is the space reserved for the table segment on
// first Format, chosen generously so ordinary imports/deletes don't
// need to relocate the data region. It doubles (relocating the data
// region) only if the table outgrows it - see Commit. This is an
// implementation detail never exposed on the wire: readers trust the
// header's own TableOffset/DataOffset fields, not this constant.
const initialTableCapacity = 64 * 1024

// Volume is an opened MyFS container plus its sidecar, file handles, and
// decrypted in-memory state. It is mutable only for the owning process
// between Open/Format and Close (spec §3 "Shared resources").
type Volume struct {
	containerPath string
	sidecarPath   string
	machinePath   string

	container *byteio.File
	sidecar   *byteio.File

	hdr           *header.Header
	table         *filetable.Table
	dataRegion    []byte
	tableCapacity int64
	masterKey     []byte
	logger        log.Logger
}

// ContainerPath returns the path this Volume was opened/formatted from.
func (v *Volume) ContainerPath() string { return v.containerPath }

// SidecarPath returns the sidecar's path.
func (v *Volume) SidecarPath() string { return v.sidecarPath }

// Header returns a copy of the volume's parsed header.
func (v *Volume) Header() header.Header { return *v.hdr }

func machinePathFor(containerPath string) string {
	return containerPath + ".machine"
}

// Format creates a brand-new volume: generates the volume id and master
// salt, derives the master key, writes an empty sealed table, and
// establishes machine binding (spec §4.6 "Format"). Any failure after
// partial writes removes every file this call created, so a half-formed
// volume is never left on disk.
func Format(containerPath, sidecarPath, masterSecret string, p kdfparams.Params) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("volume: generating volume id: %w", err)
	}
	var volumeID [16]byte
	copy(volumeID[:], id[:])

	masterSalt, err := crypto.RandomBytes(header.MasterSaltSize)
	if err != nil {
		return err
	}

	masterKey, err := crypto.DeriveKey([]byte(masterSecret), masterSalt, crypto.LabelMaster, p)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(masterKey)

	table := filetable.New()
	sealed, err := table.Seal(masterKey, volumeID[:])
	if err != nil {
		return err
	}

	hdr := &header.Header{
		Version:     header.CurrentVersion,
		VolumeID:    volumeID,
		KDFParams:   p,
		TableOffset: header.FixedHeaderSize,
		TableLength: int64(len(sealed)),
		DataOffset:  header.FixedHeaderSize + initialTableCapacity,
	}
	copy(hdr.MasterSalt[:], masterSalt)

	nonce, err := crypto.RandomBytes(header.NonceSize)
	if err != nil {
		return err
	}
	copy(hdr.Nonce[:], nonce)

	tag, err := header.ComputeTag(masterKey, hdr)
	if err != nil {
		return err
	}
	copy(hdr.Tag[:], tag)

	fp, err := machineid.Fingerprint()
	if err != nil {
		return err
	}
	rec, err := machineid.NewBindingRecord(volumeID, fp, p)
	if err != nil {
		return err
	}

	created := make([]string, 0, 3)
	rollback := func() {
		for _, path := range created {
			os.Remove(path)
		}
	}

	container, err := byteio.Open(containerPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	created = append(created, containerPath)
	defer container.Close()

	container.WriteAt(hdr.Bytes(), 0)
	container.WriteAt(sealed, header.FixedHeaderSize)
	if err := container.Commit(); err != nil {
		rollback()
		return err
	}

	sidecar, err := byteio.Open(sidecarPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		rollback()
		return err
	}
	created = append(created, sidecarPath)
	defer sidecar.Close()

	sidecar.WriteAt(buildSidecarBytes(hdr, sealed), 0)
	if err := sidecar.Commit(); err != nil {
		rollback()
		return err
	}

	if err := writeFileAtomic(machinePathFor(containerPath), rec.Bytes()); err != nil {
		rollback()
		return err
	}
	created = append(created, machinePathFor(containerPath))

	return nil
}

// buildSidecarBytes lays out the sidecar: crypto-params prefix followed
// by the table segment alone (spec §6 "Sidecar layout").
func buildSidecarBytes(hdr *header.Header, sealedTable []byte) []byte {
	out := make([]byte, 0, header.CryptoParamsSize+len(sealedTable))
	out = append(out, hdr.SidecarPrefix()...)
	out = append(out, sealedTable...)
	return out
}

// writeFileAtomic is used only for the small, fixed-size machine binding
// record, which has no positional-write structure worth routing through
// byteio - it is simply written whole, via a temp-file rename so a
// crash never leaves a half-written binding record behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return merrors.NewIOError("create-temp", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return merrors.NewIOError("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return merrors.NewIOError("fsync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return merrors.NewIOError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return merrors.NewIOError("rename", path, err)
	}
	return nil
}

// Close releases the container lock and zeros key material (spec §4.4,
// §5 "Shared resources").
func (v *Volume) Close() error {
	var err error
	if v.container != nil {
		err = v.container.Close()
	}
	if v.sidecar != nil {
		if e := v.sidecar.Close(); e != nil && err == nil {
			err = e
		}
	}
	crypto.SecureZero(v.masterKey)
	v.masterKey = nil
	return err
}
