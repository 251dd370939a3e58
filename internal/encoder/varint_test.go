package encoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarint_RoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{
		0, 1, 127, 128, 255, 256, 16383, 16384,
		1<<32 - 1, 1 << 32, math.MaxUint64,
	}
	for _, want := range values {
		buf := AppendUvarint(nil, want)
		got, n, err := Uvarint(buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestUvarint_Minimal(t *testing.T) {
	t.Parallel()

	// No trailing continuation bytes: the last byte never sets bit 7.
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, math.MaxUint64} {
		buf := AppendUvarint(nil, v)
		assert.Zero(t, buf[len(buf)-1]&0x80, "value %d", v)
		assert.Equal(t, UvarintLen(v), len(buf), "value %d", v)
	}
}

func TestUvarint_Truncated(t *testing.T) {
	t.Parallel()

	_, _, err := Uvarint([]byte{0x80})
	assert.ErrorIs(t, err, ErrVarintTruncated)

	_, _, err = Uvarint(nil)
	assert.ErrorIs(t, err, ErrVarintTruncated)
}

func TestUvarint_Overflow(t *testing.T) {
	t.Parallel()

	// Eleven continuation-heavy bytes exceed 64 bits.
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x02}
	_, _, err := Uvarint(buf)
	assert.ErrorIs(t, err, ErrVarintOverflow)
}
