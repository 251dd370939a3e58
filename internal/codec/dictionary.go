package codec

import (
	"sort"

	"github.com/vertti/ecomp/internal/encoder"
)

// MaxDictionaryEntries caps the dictionary; ids are a single byte.
const MaxDictionaryEntries = 255

// encodedPattern is the wire form of a block body: the selected bitmask
// encoding plus the model-packed residues.
type encodedPattern struct {
	consensus   byte
	maskMode    byte
	maskPayload []byte
	devCount    int
	residues    []byte // bit-packed under the consensus model
}

// size returns the serialized pattern size: consensus byte, mask mode byte,
// deviation count varint, mask length varint, mask payload, 2-byte residue
// length, residue payload.
func (p *encodedPattern) size() int {
	return 1 + 1 +
		encoder.UvarintLen(uint64(p.devCount)) +
		encoder.UvarintLen(uint64(len(p.maskPayload))) +
		len(p.maskPayload) +
		2 + len(p.residues)
}

const (
	markerLiteral   byte = 0
	markerReference byte = 1

	// reference record: marker, dictionary id, run length
	referenceSize = 3
)

// dictionary maps frequent block patterns to 1-byte ids.
type dictionary struct {
	entries []*encodedPattern
	ids     map[string]int
}

// buildDictionary scores every distinct pattern by net bytes saved when its
// occurrences become references, and keeps the top positive scorers in
// descending benefit order. Ties keep first-appearance order.
func buildDictionary(blocks []Block, patterns map[string]*encodedPattern) *dictionary {
	type candidate struct {
		key     string
		first   int
		count   int
		benefit int
	}
	stats := make(map[string]*candidate)
	order := 0
	for _, b := range blocks {
		key := patternKey(b)
		c := stats[key]
		if c == nil {
			c = &candidate{key: key, first: order}
			stats[key] = c
			order++
		}
		c.count++
	}

	candidates := make([]*candidate, 0, len(stats))
	for key, c := range stats {
		p := patterns[key]
		literalSize := 2 + p.size() // marker + run length + pattern body
		c.benefit = c.count*(literalSize-referenceSize) - p.size()
		if c.benefit > 0 {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].benefit != candidates[j].benefit {
			return candidates[i].benefit > candidates[j].benefit
		}
		return candidates[i].first < candidates[j].first
	})
	if len(candidates) > MaxDictionaryEntries {
		candidates = candidates[:MaxDictionaryEntries]
	}

	d := &dictionary{ids: make(map[string]int, len(candidates))}
	for i, c := range candidates {
		d.entries = append(d.entries, patterns[c.key])
		d.ids[c.key] = i
	}
	return d
}

// patternKey identifies a (consensus, bitmask, residues) pattern. Mask
// length is fixed per alignment, so plain concatenation is unambiguous.
func patternKey(b Block) string {
	key := make([]byte, 0, 1+len(b.Mask)+len(b.Residues))
	key = append(key, b.Consensus)
	key = append(key, b.Mask...)
	key = append(key, b.Residues...)
	return string(key)
}
