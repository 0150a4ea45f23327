package header

import "encoding/binary"

// Bytes encodes the full fixed-size header (spec §6, 122 bytes) ready to
// write at offset 0 of the container. The Tag field must already be
// computed (ComputeTag) before calling Bytes.
func (h *Header) Bytes() []byte {
	b := make([]byte, FixedHeaderSize)
	copy(b[OffMagic:], Magic[:])
	binary.BigEndian.PutUint16(b[OffVersion:], h.Version)
	copy(b[OffVolumeID:], h.cryptoParamsBytes())
	copy(b[OffNonce:], h.Nonce[:])
	copy(b[OffTag:], h.Tag[:])
	binary.BigEndian.PutUint64(b[OffTableOffset:], uint64(h.TableOffset))
	binary.BigEndian.PutUint64(b[OffTableLength:], uint64(h.TableLength))
	binary.BigEndian.PutUint64(b[OffDataOffset:], uint64(h.DataOffset))
	return b
}

// SidecarPrefix encodes the sidecar's leading span: volume id, master
// salt, and KDF params, "same encoding as offsets 6..54" (spec §6).
func (h *Header) SidecarPrefix() []byte {
	return h.cryptoParamsBytes()
}
