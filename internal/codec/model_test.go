package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/ecomp/internal/encoder"
)

// deviationBlock builds a single-column block with the given residues on
// rows 0..len-1.
func deviationBlock(consensus byte, numRows int, residues []byte) Block {
	mask := make([]byte, encoder.MaskBytes(numRows))
	for i := range residues {
		encoder.SetMaskBit(mask, i)
	}
	return Block{RunLength: 1, Consensus: consensus, Mask: mask, Residues: residues}
}

func TestBuildModels_SmallAlphabetStaysFixed(t *testing.T) {
	t.Parallel()

	// Two residues at equal frequency: fixed-width needs 1 bit per symbol,
	// Huffman matches it but pays the code-length table.
	blocks := []Block{
		deviationBlock('A', 4, []byte("CG")),
		deviationBlock('A', 4, []byte("CG")),
	}
	models, err := BuildModels(blocks)
	require.NoError(t, err)
	require.Len(t, models, 1)

	m := models[0]
	assert.Equal(t, byte('A'), m.Consensus)
	assert.Equal(t, ModelFixed, m.Mode)
	assert.Equal(t, []byte("CG"), m.Alphabet)
	assert.Equal(t, uint8(1), m.Bits)
}

func TestBuildModels_SkewedStreamSelectsHuffman(t *testing.T) {
	t.Parallel()

	// One dominant residue and nine rare ones: fixed-width costs 4 bits per
	// symbol, Huffman roughly one bit for the dominant residue.
	rare := []byte("CDEFGHIKL")
	var blocks []Block
	for i := 0; i < 99; i++ {
		blocks = append(blocks, deviationBlock('T', 8, []byte("A")))
	}
	for _, r := range rare {
		blocks = append(blocks, deviationBlock('T', 8, []byte{r}))
	}

	models, err := BuildModels(blocks)
	require.NoError(t, err)
	require.Len(t, models, 1)

	m := models[0]
	assert.Equal(t, ModelHuffman, m.Mode)
	require.Len(t, m.Alphabet, 10)

	// The dominant residue gets the shortest code.
	idxA := 0
	for i, sym := range m.Alphabet {
		if sym == 'A' {
			idxA = i
		}
	}
	for i := range m.Lengths {
		if i != idxA {
			assert.GreaterOrEqual(t, m.Lengths[i], m.Lengths[idxA])
		}
	}
}

func TestBuildModels_SelectedModeIsNeverLarger(t *testing.T) {
	t.Parallel()

	cases := [][]Block{
		{deviationBlock('A', 8, []byte("C"))},
		{
			deviationBlock('A', 8, []byte("CGT-")),
			deviationBlock('A', 8, []byte("CCCC")),
		},
		{
			deviationBlock('G', 16, []byte("AAAAAAAAAA")),
			deviationBlock('G', 16, []byte("CT")),
		},
	}
	for _, blocks := range cases {
		models, err := BuildModels(blocks)
		require.NoError(t, err)
		for _, m := range models {
			freqs := make(map[byte]int)
			total := 0
			for _, b := range blocks {
				if b.Consensus != m.Consensus {
					continue
				}
				for _, r := range b.Residues {
					freqs[r]++
					total++
				}
			}

			fixedCost := total * int(fixedWidth(len(m.Alphabet)))
			lengths, err := encoder.BuildCodeLengths(freqsInOrder(m.Alphabet, freqs))
			require.NoError(t, err)
			huffCost := 8 * len(m.Alphabet)
			for i, sym := range m.Alphabet {
				huffCost += freqs[sym] * int(lengths[i])
			}

			selected := fixedCost
			if m.Mode == ModelHuffman {
				selected = huffCost
			}
			assert.LessOrEqual(t, selected, fixedCost)
			assert.LessOrEqual(t, selected, huffCost)
		}
	}
}

func freqsInOrder(alphabet []byte, freqs map[byte]int) []int {
	out := make([]int, len(alphabet))
	for i, sym := range alphabet {
		out[i] = freqs[sym]
	}
	return out
}

func TestSymbolModel_ResiduesRoundTrip(t *testing.T) {
	t.Parallel()

	blocks := []Block{
		deviationBlock('A', 8, []byte("CGT-CG")),
		deviationBlock('A', 8, []byte("----")),
	}
	models, err := BuildModels(blocks)
	require.NoError(t, err)
	require.Len(t, models, 1)
	m := models[0]

	for _, residues := range [][]byte{
		[]byte("CGT-CG"),
		[]byte("----"),
		[]byte("C"),
		nil,
	} {
		packed, err := m.EncodeResidues(residues)
		require.NoError(t, err)
		got, err := m.DecodeResidues(packed, len(residues))
		require.NoError(t, err)
		assert.Equal(t, residues, got)
	}
}

func TestSymbolModel_RejectsForeignResidue(t *testing.T) {
	t.Parallel()

	blocks := []Block{deviationBlock('A', 8, []byte("CG"))}
	models, err := BuildModels(blocks)
	require.NoError(t, err)

	_, err = models[0].EncodeResidues([]byte("X"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local alphabet")
}

func TestFixedWidth_Clamps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(1), fixedWidth(1))
	assert.Equal(t, uint8(1), fixedWidth(2))
	assert.Equal(t, uint8(2), fixedWidth(3))
	assert.Equal(t, uint8(2), fixedWidth(4))
	assert.Equal(t, uint8(3), fixedWidth(5))
	assert.Equal(t, uint8(8), fixedWidth(255))
}
