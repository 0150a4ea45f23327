package filetable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// FormatVersion is the file table's own serialization version, distinct
// from the volume header's format version (spec §6 keeps these separate
// concerns).
const FormatVersion uint16 = 1

// aad returns the AEAD associated data binding a sealed table to its
// logical role and to the specific volume it belongs to (spec §4.5:
// "associated data is the volume identifier as additional context").
func aad(volumeID []byte) []byte {
	out := make([]byte, 0, len(crypto.LabelTable)+len(volumeID))
	out = append(out, []byte(crypto.LabelTable)...)
	out = append(out, volumeID...)
	return out
}

// Marshal serializes the table to its length-prefixed record stream
// (spec §4.5), without encryption.
func (t *Table) Marshal() []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.BigEndian, FormatVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(t.entries)))

	for _, e := range t.entries {
		writeUint64(&buf, e.ID)
		writeString(&buf, e.Name)
		writeInt64(&buf, e.OriginalSize)
		writeInt64(&buf, e.CiphertextSize)
		writeInt64(&buf, e.ImportedAt.UTC().Unix())
		buf.Write(e.Salt[:])
		writeBool(&buf, e.Protected)
		writeBytes16(&buf, e.WrappedKey)
		buf.Write(e.Digest[:])
		writeInt64(&buf, e.Locator.Offset)
		writeInt64(&buf, e.Locator.Length)
		buf.WriteByte(byte(e.State))
		writeInt64(&buf, e.DeletedAt.UTC().Unix())
	}

	return buf.Bytes()
}

// Unmarshal parses the length-prefixed record stream produced by
// Marshal back into a Table.
func Unmarshal(data []byte) (*Table, error) {
	r := bytes.NewReader(data)

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: reading table version: %v", merrors.ErrTableCorrupt, err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported table version %d", merrors.ErrTableCorrupt, version)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading entry count: %v", merrors.ErrTableCorrupt, err)
	}

	t := New()
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", merrors.ErrTableCorrupt, i, err)
		}
		t.entries = append(t.entries, e)
		t.byID[e.ID] = e
		if e.State == Active {
			t.byName[e.Name] = e
		}
		if e.ID >= t.nextID {
			t.nextID = e.ID + 1
		}
	}
	return t, nil
}

func readEntry(r io.Reader) (*Entry, error) {
	e := &Entry{}

	var err error
	if e.ID, err = readUint64(r); err != nil {
		return nil, err
	}
	if e.Name, err = readString(r); err != nil {
		return nil, err
	}
	if e.OriginalSize, err = readInt64(r); err != nil {
		return nil, err
	}
	if e.CiphertextSize, err = readInt64(r); err != nil {
		return nil, err
	}
	importedAt, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	e.ImportedAt = time.Unix(importedAt, 0).UTC()

	if _, err := io.ReadFull(r, e.Salt[:]); err != nil {
		return nil, err
	}
	if e.Protected, err = readBool(r); err != nil {
		return nil, err
	}
	if e.WrappedKey, err = readBytes16(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.Digest[:]); err != nil {
		return nil, err
	}
	if e.Locator.Offset, err = readInt64(r); err != nil {
		return nil, err
	}
	if e.Locator.Length, err = readInt64(r); err != nil {
		return nil, err
	}

	stateByte := make([]byte, 1)
	if _, err := io.ReadFull(r, stateByte); err != nil {
		return nil, err
	}
	e.State = State(stateByte[0])

	deletedAt, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	if deletedAt != 0 {
		e.DeletedAt = time.Unix(deletedAt, 0).UTC()
	}

	return e, nil
}

// Seal serializes and AEAD-seals the table under masterKey, using a
// fresh random nonce each call (spec §4.2: nonces must never repeat
// under the same key).
func (t *Table) Seal(masterKey, volumeID []byte) ([]byte, error) {
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return nil, err
	}
	plaintext := t.Marshal()
	ct, err := crypto.Seal(masterKey, nonce, plaintext, aad(volumeID))
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// Open decrypts and parses a sealed table segment produced by Seal.
// AEAD failure is reported as ErrTableCorrupt - spec §4.6 treats a
// table that cannot be opened under the candidate master key as the
// trigger for sidecar fallback, not as a distinguishable "wrong
// password" error at this layer.
func Open(sealed, masterKey, volumeID []byte) (*Table, error) {
	if len(sealed) < crypto.NonceSize {
		return nil, fmt.Errorf("%w: sealed table too short", merrors.ErrTableCorrupt)
	}
	nonce, ct := sealed[:crypto.NonceSize], sealed[crypto.NonceSize:]
	plaintext, err := crypto.Open(masterKey, nonce, ct, aad(volumeID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merrors.ErrTableCorrupt, err)
	}
	return Unmarshal(plaintext)
}

func writeUint64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.BigEndian, v) }
func writeInt64(buf *bytes.Buffer, v int64)   { binary.Write(buf, binary.BigEndian, v) }
func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func writeBytes16(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint16(len(b)))
	buf.Write(b)
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readInt64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBool(r io.Reader) (bool, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return false, err
	}
	return b[0] == 1, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes16(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
