package codec

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/vertti/ecomp/internal/encoder"
)

// Symbol model modes.
const (
	ModelFixed   byte = 0 // fixed-width local-alphabet indices
	ModelHuffman byte = 1 // canonical Huffman codes
)

// SymbolModel encodes the deviation residues observed under one consensus
// symbol. The local alphabet is the sorted set of residues ever paired with
// the consensus; residues are transmitted as bit-packed alphabet indices
// (fixed-width) or canonical Huffman codewords.
type SymbolModel struct {
	Consensus byte
	Mode      byte
	Alphabet  []byte  // L_c, ascending byte order
	Bits      uint8   // fixed-width bits per symbol
	Lengths   []uint8 // Huffman code lengths in alphabet order

	codes []uint32
	index [256]int
	dec   *encoder.HuffmanDecoder
}

// BuildModels scans blocks and selects, for every consensus symbol that
// carries deviations, the cheaper of fixed-width and canonical Huffman
// coding of its deviation stream. Models are returned in ascending
// consensus byte order.
func BuildModels(blocks []Block) ([]SymbolModel, error) {
	type tally struct {
		counts [256]int
		total  int
	}
	tallies := make(map[byte]*tally)
	for _, b := range blocks {
		if len(b.Residues) == 0 {
			continue
		}
		t := tallies[b.Consensus]
		if t == nil {
			t = &tally{}
			tallies[b.Consensus] = t
		}
		for _, r := range b.Residues {
			t.counts[r]++
			t.total++
		}
	}

	consensuses := make([]int, 0, len(tallies))
	for c := range tallies {
		consensuses = append(consensuses, int(c))
	}
	sort.Ints(consensuses)

	models := make([]SymbolModel, 0, len(consensuses))
	for _, c := range consensuses {
		t := tallies[byte(c)]
		var alphabet []byte
		for sym := 0; sym < 256; sym++ {
			if t.counts[sym] > 0 {
				alphabet = append(alphabet, byte(sym))
			}
		}

		freqs := make([]int, len(alphabet))
		for i, sym := range alphabet {
			freqs[i] = t.counts[sym]
		}

		m := SymbolModel{
			Consensus: byte(c),
			Mode:      ModelFixed,
			Alphabet:  alphabet,
			Bits:      fixedWidth(len(alphabet)),
		}

		fixedCost := t.total * int(m.Bits)
		lengths, err := encoder.BuildCodeLengths(freqs)
		if err == nil {
			huffCost := 8 * len(alphabet)
			for i, l := range lengths {
				huffCost += freqs[i] * int(l)
			}
			if huffCost < fixedCost {
				m.Mode = ModelHuffman
				m.Lengths = lengths
			}
		} else if !errors.Is(err, encoder.ErrCodeTooLong) {
			return nil, err
		}

		if err := m.prepare(); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// fixedWidth returns ceil(log2(size)) clamped to [1, 8].
func fixedWidth(size int) uint8 {
	if size <= 1 {
		return 1
	}
	w := bits.Len(uint(size - 1))
	if w > 8 {
		return 8
	}
	return uint8(w)
}

// prepare builds the residue index table and mode-specific coding state.
func (m *SymbolModel) prepare() error {
	for i := range m.index {
		m.index[i] = -1
	}
	for i, sym := range m.Alphabet {
		m.index[sym] = i
	}

	if m.Mode == ModelFixed {
		if m.Bits < 1 || m.Bits > 8 {
			return fmt.Errorf("consensus %q: bits per symbol %d out of range", m.Consensus, m.Bits)
		}
		return nil
	}

	if len(m.Lengths) != len(m.Alphabet) {
		return fmt.Errorf("consensus %q: %d code lengths for %d residues", m.Consensus, len(m.Lengths), len(m.Alphabet))
	}
	codes, err := encoder.CanonicalCodes(m.Lengths)
	if err != nil {
		return fmt.Errorf("consensus %q: %w", m.Consensus, err)
	}
	dec, err := encoder.NewHuffmanDecoder(m.Lengths)
	if err != nil {
		return fmt.Errorf("consensus %q: %w", m.Consensus, err)
	}
	m.codes = codes
	m.dec = dec
	return nil
}

// newDecodedModel validates a model parsed from the wire and prepares it.
func newDecodedModel(consensus, mode byte, alphabet []byte, bitsPerSymbol uint8, lengths []uint8) (SymbolModel, error) {
	for i := 1; i < len(alphabet); i++ {
		if alphabet[i] <= alphabet[i-1] {
			return SymbolModel{}, fmt.Errorf("consensus %q: local alphabet not strictly ascending", consensus)
		}
	}
	m := SymbolModel{
		Consensus: consensus,
		Mode:      mode,
		Alphabet:  alphabet,
		Bits:      bitsPerSymbol,
		Lengths:   lengths,
	}
	if err := m.prepare(); err != nil {
		return SymbolModel{}, err
	}
	return m, nil
}

// EncodeResidues bit-packs residues under the model, MSB-first with a
// zero-padded final byte.
func (m *SymbolModel) EncodeResidues(residues []byte) ([]byte, error) {
	if len(residues) == 0 {
		return nil, nil
	}
	var w encoder.BitWriter
	for _, r := range residues {
		idx := m.index[r]
		if idx < 0 {
			return nil, fmt.Errorf("residue %q outside local alphabet of consensus %q", r, m.Consensus)
		}
		if m.Mode == ModelFixed {
			w.WriteBits(uint32(idx), m.Bits)
		} else {
			w.WriteBits(m.codes[idx], m.Lengths[idx])
		}
	}
	return w.Bytes(), nil
}

// DecodeResidues reads count residues from the packed payload.
func (m *SymbolModel) DecodeResidues(payload []byte, count int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	r := encoder.NewBitReader(payload)
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		var idx int
		if m.Mode == ModelFixed {
			v, err := r.ReadBits(m.Bits)
			if err != nil {
				return nil, fmt.Errorf("residue %d: %w", i, err)
			}
			idx = int(v)
		} else {
			sym, err := m.dec.ReadSymbol(r)
			if err != nil {
				return nil, fmt.Errorf("residue %d: %w", i, err)
			}
			idx = sym
		}
		if idx >= len(m.Alphabet) {
			return nil, fmt.Errorf("residue %d: index %d outside local alphabet (size %d)", i, idx, len(m.Alphabet))
		}
		out[i] = m.Alphabet[idx]
	}
	return out, nil
}
