package header

import (
	"encoding/binary"
	"fmt"
)

// Parse decodes the fixed-size header from the first FixedHeaderSize
// bytes of a container. It checks the magic but does not verify the
// tag - callers verify with VerifyTag once they have a candidate master
// key.
func Parse(b []byte) (*Header, error) {
	if len(b) < FixedHeaderSize {
		return nil, fmt.Errorf("header: need %d bytes, got %d", FixedHeaderSize, len(b))
	}
	if string(b[OffMagic:OffMagic+4]) != string(Magic[:]) {
		return nil, fmt.Errorf("header: bad magic %q", b[OffMagic:OffMagic+4])
	}

	h := &Header{
		Version: binary.BigEndian.Uint16(b[OffVersion:]),
	}
	if err := parseCryptoParamsBytes(b[OffVolumeID:OffNonce], h); err != nil {
		return nil, err
	}
	copy(h.Nonce[:], b[OffNonce:OffTag])
	copy(h.Tag[:], b[OffTag:OffTableOffset])
	h.TableOffset = int64(binary.BigEndian.Uint64(b[OffTableOffset:]))
	h.TableLength = int64(binary.BigEndian.Uint64(b[OffTableLength:]))
	h.DataOffset = int64(binary.BigEndian.Uint64(b[OffDataOffset:]))
	return h, nil
}

// ParseSidecarPrefix decodes the volume id/master salt/KDF params span
// that prefixes a sidecar file.
func ParseSidecarPrefix(b []byte) (*Header, error) {
	if len(b) < CryptoParamsSize {
		return nil, fmt.Errorf("header: sidecar prefix needs %d bytes, got %d", CryptoParamsSize, len(b))
	}
	h := &Header{}
	if err := parseCryptoParamsBytes(b[:CryptoParamsSize], h); err != nil {
		return nil, err
	}
	return h, nil
}
