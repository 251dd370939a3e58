package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/vertti/ecomp/internal/encoder"
)

// Stats summarizes an encoded block stream for metadata reporting.
type Stats struct {
	Blocks       int
	MaxRunLength int
}

// EncodePayload serializes blocks into the structural payload: consensus
// model table, dictionary section, then the block stream.
func EncodePayload(blocks []Block, numRows int) ([]byte, Stats, error) {
	models, err := BuildModels(blocks)
	if err != nil {
		return nil, Stats{}, err
	}
	modelFor := make(map[byte]*SymbolModel, len(models))
	for i := range models {
		modelFor[models[i].Consensus] = &models[i]
	}

	patterns := make(map[string]*encodedPattern)
	for _, b := range blocks {
		key := patternKey(b)
		if _, done := patterns[key]; done {
			continue
		}
		p, err := encodePattern(b, numRows, modelFor)
		if err != nil {
			return nil, Stats{}, err
		}
		patterns[key] = p
	}
	dict := buildDictionary(blocks, patterns)

	var payload []byte
	payload = appendModelTable(payload, models)
	payload, err = appendDictionary(payload, dict)
	if err != nil {
		return nil, Stats{}, err
	}

	if uint64(len(blocks)) > math.MaxUint32 {
		return nil, Stats{}, fmt.Errorf("block count %d exceeds u32 range", len(blocks))
	}
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(blocks)))

	stats := Stats{Blocks: len(blocks)}
	for _, b := range blocks {
		if b.RunLength < 1 || b.RunLength > MaxRunLength {
			return nil, Stats{}, fmt.Errorf("run length %d outside 1..%d", b.RunLength, MaxRunLength)
		}
		if b.RunLength > stats.MaxRunLength {
			stats.MaxRunLength = b.RunLength
		}
		key := patternKey(b)
		if id, ok := dict.ids[key]; ok {
			payload = append(payload, markerReference, byte(id), byte(b.RunLength))
			continue
		}
		payload = append(payload, markerLiteral, byte(b.RunLength))
		payload, err = appendPattern(payload, patterns[key])
		if err != nil {
			return nil, Stats{}, err
		}
	}
	return payload, stats, nil
}

func encodePattern(b Block, numRows int, modelFor map[byte]*SymbolModel) (*encodedPattern, error) {
	mode, maskPayload := encoder.EncodeMask(b.Mask, numRows)
	p := &encodedPattern{
		consensus:   b.Consensus,
		maskMode:    mode,
		maskPayload: maskPayload,
		devCount:    len(b.Residues),
	}
	if len(b.Residues) > 0 {
		m := modelFor[b.Consensus]
		if m == nil {
			return nil, fmt.Errorf("no symbol model for consensus %q", b.Consensus)
		}
		residues, err := m.EncodeResidues(b.Residues)
		if err != nil {
			return nil, err
		}
		p.residues = residues
	}
	return p, nil
}

// appendModelTable writes the consensus model table: count byte, then per
// model the consensus byte, mode byte, local alphabet, and mode-specific
// width or code-length data.
func appendModelTable(dst []byte, models []SymbolModel) []byte {
	dst = append(dst, byte(len(models)))
	for _, m := range models {
		dst = append(dst, m.Consensus, m.Mode, byte(len(m.Alphabet)))
		dst = append(dst, m.Alphabet...)
		if m.Mode == ModelFixed {
			dst = append(dst, m.Bits)
		} else {
			for _, l := range m.Lengths {
				dst = append(dst, l)
			}
		}
	}
	return dst
}

func appendDictionary(dst []byte, dict *dictionary) ([]byte, error) {
	dst = append(dst, byte(len(dict.entries)))
	var err error
	for _, p := range dict.entries {
		dst = append(dst, p.consensus)
		dst, err = appendPatternBody(dst, p)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// appendPattern writes consensus byte plus pattern body (literal record tail).
func appendPattern(dst []byte, p *encodedPattern) ([]byte, error) {
	dst = append(dst, p.consensus)
	return appendPatternBody(dst, p)
}

func appendPatternBody(dst []byte, p *encodedPattern) ([]byte, error) {
	if len(p.residues) > math.MaxUint16 {
		return nil, fmt.Errorf("residue payload %d bytes exceeds u16 range", len(p.residues))
	}
	dst = append(dst, p.maskMode)
	dst = encoder.AppendUvarint(dst, uint64(p.devCount))
	dst = encoder.AppendUvarint(dst, uint64(len(p.maskPayload)))
	dst = append(dst, p.maskPayload...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.residues)))
	dst = append(dst, p.residues...)
	return dst, nil
}

// payloadReader walks the payload with bounds checking.
type payloadReader struct {
	buf []byte
	pos int
}

func (r *payloadReader) remaining() int { return len(r.buf) - r.pos }

func (r *payloadReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("unexpected end of payload")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *payloadReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("payload slice of %d bytes exceeds remaining %d", n, r.remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *payloadReader) uvarint() (uint64, error) {
	v, n, err := encoder.Uvarint(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *payloadReader) uint16be() (int, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (r *payloadReader) uint32be() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// DecodePayload parses a structural payload back into run-length blocks.
// Every length, mode byte, dictionary id, mask bit, and residue is bounds
// checked; any violation aborts with an error naming the offending record.
func DecodePayload(payload []byte, numRows int) ([]Block, error) {
	r := &payloadReader{buf: payload}

	modelFor, err := readModelTable(r)
	if err != nil {
		return nil, fmt.Errorf("consensus model table: %w", err)
	}

	dictCount, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("dictionary size: %w", err)
	}
	dict := make([]Block, dictCount)
	for i := range dict {
		consensus, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("dictionary entry %d: %w", i, err)
		}
		mask, residues, err := readPatternBody(r, consensus, numRows, modelFor)
		if err != nil {
			return nil, fmt.Errorf("dictionary entry %d: %w", i, err)
		}
		dict[i] = Block{Consensus: consensus, Mask: mask, Residues: residues}
	}

	blockCount, err := r.uint32be()
	if err != nil {
		return nil, fmt.Errorf("block count: %w", err)
	}
	// A reference record is 3 bytes, so the count is bounded by the
	// remaining payload.
	if int64(blockCount) > int64(r.remaining())/referenceSize+1 {
		return nil, fmt.Errorf("block count %d exceeds remaining payload", blockCount)
	}

	blocks := make([]Block, 0, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		marker, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("block %d marker: %w", i, err)
		}
		switch marker {
		case markerReference:
			id, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("block %d dictionary id: %w", i, err)
			}
			run, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("block %d run length: %w", i, err)
			}
			if int(id) >= len(dict) {
				return nil, fmt.Errorf("block %d: dictionary id %d out of range (size %d)", i, id, len(dict))
			}
			if run == 0 {
				return nil, fmt.Errorf("block %d: zero run length", i)
			}
			entry := dict[id]
			entry.RunLength = int(run)
			blocks = append(blocks, entry)
		case markerLiteral:
			run, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("block %d run length: %w", i, err)
			}
			if run == 0 {
				return nil, fmt.Errorf("block %d: zero run length", i)
			}
			consensus, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("block %d consensus: %w", i, err)
			}
			mask, residues, err := readPatternBody(r, consensus, numRows, modelFor)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", i, err)
			}
			blocks = append(blocks, Block{
				RunLength: int(run),
				Consensus: consensus,
				Mask:      mask,
				Residues:  residues,
			})
		default:
			return nil, fmt.Errorf("block %d: unknown marker byte %d", i, marker)
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after block stream", r.remaining())
	}
	return blocks, nil
}

func readModelTable(r *payloadReader) (map[byte]*SymbolModel, error) {
	count, err := r.byte()
	if err != nil {
		return nil, err
	}
	models := make(map[byte]*SymbolModel, count)
	for i := 0; i < int(count); i++ {
		consensus, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		mode, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if mode != ModelFixed && mode != ModelHuffman {
			return nil, fmt.Errorf("entry %d: unknown model mode %d", i, mode)
		}
		size, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if size == 0 {
			return nil, fmt.Errorf("entry %d: empty local alphabet", i)
		}
		alphabetRaw, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		alphabet := make([]byte, len(alphabetRaw))
		copy(alphabet, alphabetRaw)

		var bitsPerSymbol uint8
		var lengths []uint8
		if mode == ModelFixed {
			bitsPerSymbol, err = r.byte()
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		} else {
			raw, err := r.bytes(int(size))
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			lengths = make([]uint8, len(raw))
			copy(lengths, raw)
		}

		m, err := newDecodedModel(consensus, mode, alphabet, bitsPerSymbol, lengths)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if _, dup := models[consensus]; dup {
			return nil, fmt.Errorf("entry %d: duplicate model for consensus %q", i, consensus)
		}
		models[consensus] = &m
	}
	return models, nil
}

// readPatternBody parses mask mode, deviation count, mask payload, and the
// residue payload, returning the rehydrated mask and residue bytes.
func readPatternBody(r *payloadReader, consensus byte, numRows int, modelFor map[byte]*SymbolModel) ([]byte, []byte, error) {
	maskMode, err := r.byte()
	if err != nil {
		return nil, nil, err
	}
	devCount, err := r.uvarint()
	if err != nil {
		return nil, nil, fmt.Errorf("deviation count: %w", err)
	}
	if devCount > uint64(numRows) {
		return nil, nil, fmt.Errorf("deviation count %d exceeds row count %d", devCount, numRows)
	}
	maskLen, err := r.uvarint()
	if err != nil {
		return nil, nil, fmt.Errorf("mask length: %w", err)
	}
	if maskLen > uint64(r.remaining()) {
		return nil, nil, fmt.Errorf("mask length %d exceeds remaining payload %d", maskLen, r.remaining())
	}
	maskPayload, err := r.bytes(int(maskLen))
	if err != nil {
		return nil, nil, err
	}
	mask, err := encoder.DecodeMask(maskMode, maskPayload, numRows)
	if err != nil {
		return nil, nil, err
	}
	if got := encoder.Popcount(mask); got != int(devCount) {
		return nil, nil, fmt.Errorf("mask has %d set bits, deviation count says %d", got, devCount)
	}

	resLen, err := r.uint16be()
	if err != nil {
		return nil, nil, fmt.Errorf("residue length: %w", err)
	}
	resPayload, err := r.bytes(resLen)
	if err != nil {
		return nil, nil, err
	}

	var residues []byte
	if devCount > 0 {
		m := modelFor[consensus]
		if m == nil {
			return nil, nil, fmt.Errorf("no symbol model for consensus %q", consensus)
		}
		residues, err = m.DecodeResidues(resPayload, int(devCount))
		if err != nil {
			return nil, nil, err
		}
	} else if resLen != 0 {
		return nil, nil, fmt.Errorf("residue payload of %d bytes with zero deviations", resLen)
	}
	return mask, residues, nil
}

// ExpandBlocks replays the block stream into alignment rows. The total run
// length must equal the expected column count.
func ExpandBlocks(blocks []Block, numRows, numColumns int) ([][]byte, error) {
	rows := make([][]byte, numRows)
	for i := range rows {
		rows[i] = make([]byte, numColumns)
	}

	col := 0
	for i, b := range blocks {
		positions := encoder.MaskPositions(b.Mask, numRows)
		if len(positions) != len(b.Residues) {
			return nil, fmt.Errorf("block %d: %d mask bits for %d residues", i, len(positions), len(b.Residues))
		}
		if col+b.RunLength > numColumns {
			return nil, fmt.Errorf("block %d: columns exceed alignment length %d", i, numColumns)
		}
		for k := 0; k < b.RunLength; k++ {
			for r := range rows {
				rows[r][col] = b.Consensus
			}
			for j, row := range positions {
				rows[row][col] = b.Residues[j]
			}
			col++
		}
	}
	if col != numColumns {
		return nil, fmt.Errorf("decoded %d columns, expected %d", col, numColumns)
	}
	return rows, nil
}
