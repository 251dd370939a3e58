// Package format defines the on-disk ecomp container: the archive header,
// the metadata document, and the permutation and identifier chunks carried
// at the start of the payload.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic opens every ecomp archive.
var Magic = [8]byte{'E', 'C', 'O', 'M', 'P', '0', '0', '1'}

// Archive format version. Major must match at decode; minor and patch are
// informational.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
	VersionPatch uint8 = 0
)

// HeaderSize is the fixed archive header length: magic, three version
// bytes, a big-endian u64 payload length at bytes 11..19, and one reserved
// zero byte.
const HeaderSize = 20

// FormatVersion is the metadata form of the archive version.
const FormatVersion = "1.0.0"

// WriteArchive writes the header followed by the payload.
func WriteArchive(w io.Writer, payload []byte) error {
	header := make([]byte, HeaderSize)
	copy(header, Magic[:])
	header[8] = VersionMajor
	header[9] = VersionMinor
	header[10] = VersionPatch
	binary.BigEndian.PutUint64(header[11:19], uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// ReadArchive validates the header and returns the payload. The payload
// length must match the header exactly, with no trailing bytes.
func ReadArchive(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	if !bytes.Equal(header[:8], Magic[:]) {
		return nil, fmt.Errorf("invalid magic bytes: not an ecomp archive")
	}
	if header[8] != VersionMajor {
		return nil, fmt.Errorf("unsupported archive major version %d (want %d)", header[8], VersionMajor)
	}
	length := binary.BigEndian.Uint64(header[11:19])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading payload of %d bytes: %w", length, err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("trailing bytes after %d-byte payload", length)
	}
	return payload, nil
}
