package codec

import (
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadRoundTrip(t *testing.T, rows [][]byte) {
	t.Helper()

	numRows := len(rows)
	blocks := aggregateRows(rows)
	payload, stats, err := EncodePayload(blocks, numRows)
	require.NoError(t, err)
	assert.Equal(t, len(blocks), stats.Blocks)

	decoded, err := DecodePayload(payload, numRows)
	require.NoError(t, err)
	require.Len(t, decoded, len(blocks))
	for i := range blocks {
		assert.Equal(t, blocks[i], decoded[i], "block %d", i)
	}

	numColumns := 0
	if numRows > 0 {
		numColumns = len(rows[0])
	}
	restored, err := ExpandBlocks(decoded, numRows, numColumns)
	require.NoError(t, err)
	assert.Equal(t, rows, restored)
}

func TestPayload_RoundTripSimple(t *testing.T) {
	t.Parallel()

	payloadRoundTrip(t, [][]byte{
		[]byte("ACGTACGT"),
		[]byte("ACGTACGT"),
		[]byte("ACGAACGT"),
	})
}

func TestPayload_RoundTripWithGapsAndTies(t *testing.T) {
	t.Parallel()

	payloadRoundTrip(t, [][]byte{
		[]byte("AA--CCGG"),
		[]byte("AC--CCGT"),
		[]byte("CC-ACCTT"),
		[]byte("CA-ACGTT"),
	})
}

func TestPayload_RoundTripRandom(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(19, 19))
	symbols := []byte("ACGT-N")
	for trial := 0; trial < 10; trial++ {
		numRows := 1 + rng.IntN(40)
		numCols := rng.IntN(300)
		base := make([]byte, numCols)
		for i := range base {
			base[i] = symbols[rng.IntN(len(symbols))]
		}
		rows := make([][]byte, numRows)
		for r := range rows {
			row := make([]byte, numCols)
			copy(row, base)
			for i := range row {
				if rng.Float64() < 0.08 {
					row[i] = symbols[rng.IntN(len(symbols))]
				}
			}
			rows[r] = row
		}
		payloadRoundTrip(t, rows)
	}
}

func TestPayload_EmptyAlignment(t *testing.T) {
	t.Parallel()

	payload, stats, err := EncodePayload(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Blocks)

	decoded, err := DecodePayload(payload, 0)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestPayload_DictionaryShrinksRepeatedPatterns(t *testing.T) {
	t.Parallel()

	// Alternating column patterns defeat run merging but repeat constantly,
	// so the dictionary should replace literals with 3-byte references.
	numRows := 16
	numCols := 512
	rows := make([][]byte, numRows)
	for r := range rows {
		rows[r] = make([]byte, numCols)
	}
	for c := 0; c < numCols; c++ {
		for r := 0; r < numRows; r++ {
			rows[r][c] = 'A'
		}
		if c%2 == 0 {
			rows[3][c] = 'T'
		} else {
			rows[5][c] = 'G'
		}
	}

	blocks := aggregateRows(rows)
	require.Len(t, blocks, numCols)
	payload, _, err := EncodePayload(blocks, numRows)
	require.NoError(t, err)

	// Two dictionary entries plus references: far below one literal per column.
	literalFloor := numCols * 8
	assert.Less(t, len(payload), literalFloor)

	payloadRoundTrip(t, rows)
}

func TestDecodePayload_Malformed(t *testing.T) {
	t.Parallel()

	rows := [][]byte{
		[]byte("ACGTACGT"),
		[]byte("ACGTACGT"),
		[]byte("ACTTACGT"),
	}
	blocks := aggregateRows(rows)
	payload, _, err := EncodePayload(blocks, 3)
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		for cut := 1; cut < len(payload); cut += 3 {
			_, err := DecodePayload(payload[:len(payload)-cut], 3)
			assert.Error(t, err, "cut %d", cut)
		}
	})

	t.Run("trailing garbage", func(t *testing.T) {
		t.Parallel()
		_, err := DecodePayload(append(append([]byte{}, payload...), 0xEE), 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trailing")
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := DecodePayload(nil, 3)
		assert.Error(t, err)
	})
}

func TestDecodePayload_BadRecords(t *testing.T) {
	t.Parallel()

	// Minimal hand-built payload: no models, no dictionary, one record.
	build := func(record ...byte) []byte {
		payload := []byte{0, 0} // zero models, zero dictionary entries
		payload = binary.BigEndian.AppendUint32(payload, 1)
		return append(payload, record...)
	}

	tests := []struct {
		name    string
		payload []byte
		wantErr string
	}{
		{"unknown marker", build(7, 1, 'A'), "unknown marker"},
		{"reference without dictionary", build(1, 0, 5), "dictionary id"},
		{"zero run length literal", build(0, 0, 'A', 0, 0, 0, 0, 0), "zero run length"},
		{"unknown mask mode", build(0, 1, 'A', 9, 0, 0, 0, 0), "unknown bitmask mode"},
		{"missing model", append(build(0, 1, 'A', 0), append([]byte{1, 1, 0x01}, 0, 1, 0xFF)...), "no symbol model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodePayload(tt.payload, 8)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandBlocks_LengthMismatch(t *testing.T) {
	t.Parallel()

	rows := [][]byte{[]byte("AAAA")}
	blocks := aggregateRows(rows)

	_, err := ExpandBlocks(blocks, 1, 3)
	require.Error(t, err)

	_, err = ExpandBlocks(blocks, 1, 5)
	require.Error(t, err)
}
