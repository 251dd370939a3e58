// Package encoder provides the bit-level primitives of the ecomp payload:
// varints, MSB-first bit streams, bitmask codecs, and canonical Huffman codes.
package encoder

import (
	"encoding/binary"
	"errors"
)

// Varint errors.
var (
	ErrVarintTruncated = errors.New("truncated varint")
	ErrVarintOverflow  = errors.New("varint exceeds 64 bits")
)

// AppendUvarint appends v in little-endian base-128 form: 7 data bits per
// byte, bit 7 set on all but the terminating byte. The encoding is minimal.
func AppendUvarint(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// Uvarint decodes a varint from the start of buf and returns the value and
// the number of bytes consumed.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, ErrVarintTruncated
	}
	if n < 0 {
		return 0, 0, ErrVarintOverflow
	}
	return v, n, nil
}

// UvarintLen returns the encoded size of v in bytes.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
