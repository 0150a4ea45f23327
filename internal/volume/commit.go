package volume

import (
	"github.com/hytong05/NT212-New-File-System/internal/header"
	"github.com/hytong05/NT212-New-File-System/internal/log"
)

// Commit re-serializes and re-seals the file table, then writes the
// container and, only once that write (and its fsync) has completed,
// the sidecar (spec §4.6 "Commit", §5 "container-write must
// happen-before sidecar-write"). A crash between the two leaves the
// container ahead of the sidecar, which the next Open's table-load
// fallback and Repair both already know how to reconcile.
func (v *Volume) Commit() error {
	sealedTable, err := v.table.Seal(v.masterKey, v.hdr.VolumeID[:])
	if err != nil {
		return err
	}

	capacity := v.tableCapacity
	if capacity == 0 {
		capacity = initialTableCapacity
	}
	for int64(len(sealedTable)) > capacity {
		capacity *= 2
	}
	if capacity != v.tableCapacity {
		v.logger.Warn("table segment outgrew reserved capacity, relocating data region",
			log.Int("new_capacity", int(capacity)))
		v.tableCapacity = capacity
		v.hdr.DataOffset = header.FixedHeaderSize + capacity
	}
	v.hdr.TableLength = int64(len(sealedTable))

	v.container.WriteAt(v.hdr.Bytes(), 0)
	v.container.WriteAt(sealedTable, header.FixedHeaderSize)
	if len(v.dataRegion) > 0 {
		v.container.WriteAt(v.dataRegion, v.hdr.DataOffset)
	}
	v.container.Truncate(v.hdr.DataOffset + int64(len(v.dataRegion)))
	if err := v.container.Commit(); err != nil {
		return err
	}

	sidecarBytes := buildSidecarBytes(v.hdr, sealedTable)
	v.sidecar.WriteAt(sidecarBytes, 0)
	v.sidecar.Truncate(int64(len(sidecarBytes)))
	return v.sidecar.Commit()
}
