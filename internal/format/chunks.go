package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/vertti/ecomp/internal/encoder"
)

// Permutation chunk framing.
var permutationMagic = []byte("ECPE")

const (
	permutationVersion byte = 1

	permFlagCompressed byte = 1 << 0
	permWidthShift          = 1
	permWidthU8        byte = 0
	permWidthU16       byte = 1
	permWidthU32       byte = 2
)

// Identifier chunk framing.
var identifierMagic = []byte("ECID")

const (
	identifierVersionLegacy byte = 1
	identifierVersion       byte = 2

	idModeRaw  byte = 0
	idModeZstd byte = 1
	idModeZlib byte = 2
)

// EncodePermutationChunk frames the row permutation as an ECPE chunk:
// magic, version, flag byte (zlib bit plus index width), varint index
// count, varint payload length, payload. The narrowest width that holds
// every index is used, and zlib compression is applied when it saves bytes.
func EncodePermutationChunk(perm []int) ([]byte, error) {
	maxIndex := 0
	for _, idx := range perm {
		if idx < 0 {
			return nil, fmt.Errorf("negative permutation index %d", idx)
		}
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	width := permWidthU8
	switch {
	case maxIndex > 0xFFFF:
		width = permWidthU32
	case maxIndex > 0xFF:
		width = permWidthU16
	}

	raw := make([]byte, 0, len(perm)*(1<<width))
	for _, idx := range perm {
		switch width {
		case permWidthU8:
			raw = append(raw, byte(idx))
		case permWidthU16:
			raw = binary.BigEndian.AppendUint16(raw, uint16(idx))
		default:
			raw = binary.BigEndian.AppendUint32(raw, uint32(idx))
		}
	}

	flags := width << permWidthShift
	payload := raw
	compressed, err := zlibCompress(raw)
	if err != nil {
		return nil, err
	}
	if len(compressed) < len(raw) {
		flags |= permFlagCompressed
		payload = compressed
	}

	out := append([]byte{}, permutationMagic...)
	out = append(out, permutationVersion, flags)
	out = encoder.AppendUvarint(out, uint64(len(perm)))
	out = encoder.AppendUvarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// DecodePermutationChunk parses an ECPE chunk from the start of data and
// returns the permutation and the remaining bytes.
func DecodePermutationChunk(data []byte) ([]int, []byte, error) {
	if !bytes.HasPrefix(data, permutationMagic) {
		return nil, nil, fmt.Errorf("permutation chunk magic missing")
	}
	data = data[len(permutationMagic):]
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("permutation chunk truncated")
	}
	if data[0] != permutationVersion {
		return nil, nil, fmt.Errorf("unsupported permutation chunk version %d", data[0])
	}
	flags := data[1]
	data = data[2:]

	count, n, err := encoder.Uvarint(data)
	if err != nil {
		return nil, nil, fmt.Errorf("permutation index count: %w", err)
	}
	data = data[n:]
	length, n, err := encoder.Uvarint(data)
	if err != nil {
		return nil, nil, fmt.Errorf("permutation payload length: %w", err)
	}
	data = data[n:]
	if length > uint64(len(data)) {
		return nil, nil, fmt.Errorf("permutation payload length %d exceeds remaining %d bytes", length, len(data))
	}
	payload, rest := data[:length], data[length:]

	if flags&permFlagCompressed != 0 {
		payload, err = zlibDecompress(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decompressing permutation: %w", err)
		}
	}

	width := (flags >> permWidthShift) & 0x03
	var stride int
	switch width {
	case permWidthU8:
		stride = 1
	case permWidthU16:
		stride = 2
	case permWidthU32:
		stride = 4
	default:
		return nil, nil, fmt.Errorf("unknown permutation index width %d", width)
	}
	if count > uint64(len(payload)) || uint64(len(payload)) != count*uint64(stride) {
		return nil, nil, fmt.Errorf("permutation payload is %d bytes, expected %d indices of %d bytes", len(payload), count, stride)
	}

	perm := make([]int, count)
	for i := range perm {
		switch width {
		case permWidthU8:
			perm[i] = int(payload[i])
		case permWidthU16:
			perm[i] = int(binary.BigEndian.Uint16(payload[i*2:]))
		default:
			perm[i] = int(binary.BigEndian.Uint32(payload[i*4:]))
		}
	}
	return perm, rest, nil
}

// EncodeIdentifierChunk frames row identifiers as an ECID chunk, version 2:
// magic, version, varint block length, then a mode byte and the identifier
// list (varint count, then varint length + UTF-8 bytes per id). The list is
// stored zstd-compressed when that makes it at least two bytes smaller;
// otherwise zlib is tried under the same margin.
func EncodeIdentifierChunk(ids []string) ([]byte, error) {
	plain := encoder.AppendUvarint(nil, uint64(len(ids)))
	for _, id := range ids {
		plain = encoder.AppendUvarint(plain, uint64(len(id)))
		plain = append(plain, id...)
	}

	mode := idModeRaw
	payload := plain

	zstdEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := zstdEnc.EncodeAll(plain, nil)
	if closeErr := zstdEnc.Close(); closeErr != nil {
		return nil, closeErr
	}
	if len(compressed)+1 < len(payload) {
		mode = idModeZstd
		payload = compressed
	}

	if mode == idModeRaw {
		zlibbed, err := zlibCompress(plain)
		if err != nil {
			return nil, err
		}
		if len(zlibbed)+1 < len(payload) {
			mode = idModeZlib
			payload = zlibbed
		}
	}

	block := append([]byte{mode}, payload...)
	out := append([]byte{}, identifierMagic...)
	out = append(out, identifierVersion)
	out = encoder.AppendUvarint(out, uint64(len(block)))
	out = append(out, block...)
	return out, nil
}

// DecodeIdentifierChunk parses an ECID chunk from the start of data and
// returns the identifiers and the remaining bytes. Versions 1 (plain list)
// and 2 (mode byte plus optionally compressed list) are both read.
func DecodeIdentifierChunk(data []byte) ([]string, []byte, error) {
	if !bytes.HasPrefix(data, identifierMagic) {
		return nil, nil, fmt.Errorf("identifier chunk magic missing")
	}
	data = data[len(identifierMagic):]
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("identifier chunk truncated")
	}
	version := data[0]
	data = data[1:]

	length, n, err := encoder.Uvarint(data)
	if err != nil {
		return nil, nil, fmt.Errorf("identifier block length: %w", err)
	}
	data = data[n:]
	if length > uint64(len(data)) {
		return nil, nil, fmt.Errorf("identifier block length %d exceeds remaining %d bytes", length, len(data))
	}
	block, rest := data[:length], data[length:]

	switch version {
	case identifierVersionLegacy:
	case identifierVersion:
		if len(block) < 1 {
			return nil, nil, fmt.Errorf("identifier block missing mode byte")
		}
		mode := block[0]
		block = block[1:]
		switch mode {
		case idModeRaw:
		case idModeZstd:
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
			}
			block, err = dec.DecodeAll(block, nil)
			dec.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("decompressing identifiers: %w", err)
			}
		case idModeZlib:
			block, err = zlibDecompress(block)
			if err != nil {
				return nil, nil, fmt.Errorf("decompressing identifiers: %w", err)
			}
		default:
			return nil, nil, fmt.Errorf("unsupported identifier compression mode %d", mode)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported identifier chunk version %d", version)
	}

	ids, err := parseIdentifierList(block)
	if err != nil {
		return nil, nil, err
	}
	return ids, rest, nil
}

func parseIdentifierList(block []byte) ([]string, error) {
	count, n, err := encoder.Uvarint(block)
	if err != nil {
		return nil, fmt.Errorf("identifier count: %w", err)
	}
	block = block[n:]
	if count > uint64(len(block)) {
		return nil, fmt.Errorf("identifier count %d exceeds block size %d", count, len(block))
	}

	ids := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, n, err := encoder.Uvarint(block)
		if err != nil {
			return nil, fmt.Errorf("identifier %d length: %w", i, err)
		}
		block = block[n:]
		if nameLen > uint64(len(block)) {
			return nil, fmt.Errorf("identifier %d exceeds block length", i)
		}
		name := block[:nameLen]
		if !utf8.Valid(name) {
			return nil, fmt.Errorf("identifier %d is not valid UTF-8", i)
		}
		ids = append(ids, string(name))
		block = block[nameLen:]
	}
	if len(block) != 0 {
		return nil, fmt.Errorf("identifier block contains %d trailing bytes", len(block))
	}
	return ids, nil
}

func zlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close() //nolint:errcheck // read-side close during cleanup
	return io.ReadAll(zr)
}
