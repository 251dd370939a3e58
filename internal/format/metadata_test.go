package format

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetadata() *Metadata {
	blocks := 12
	return &Metadata{
		FormatVersion:    FormatVersion,
		Codec:            CodecName,
		NumSequences:     3,
		AlignmentLength:  4,
		Alphabet:         []string{"A", "C", "G", "T"},
		PayloadEncoding:  EncodingZlib,
		BitsPerSymbol:    2,
		BitmaskBytes:     1,
		SequenceIDCodec:  SequenceIDCodecInline,
		OrderingStrategy: "baseline",
		SourceFormat:     "fasta",
		ChecksumSHA256:   "00ff",
		RunLengthBlocks:  &blocks,
	}
}

func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	doc, err := EncodeMetadata(sampleMetadata())
	require.NoError(t, err)

	got, err := DecodeMetadata(doc)
	require.NoError(t, err)

	assert.Equal(t, CodecName, got.Codec)
	assert.Equal(t, 3, got.NumSequences)
	assert.Equal(t, 4, got.AlignmentLength)
	assert.Equal(t, []string{"A", "C", "G", "T"}, got.Alphabet)
	assert.Equal(t, EncodingZlib, got.PayloadEncoding)
	require.NotNil(t, got.RunLengthBlocks)
	assert.Equal(t, 12, *got.RunLengthBlocks)
	assert.Equal(t, "00ff", got.ChecksumSHA256)
}

func TestMetadata_SortedKeys(t *testing.T) {
	t.Parallel()

	doc, err := json.Marshal(sampleMetadata())
	require.NoError(t, err)

	// encoding/json sorts map keys; spot-check a pair that would be
	// out of order if insertion order leaked.
	text := string(doc)
	assert.Less(t, strings.Index(text, `"alignment_length"`), strings.Index(text, `"format_version"`))
	assert.Less(t, strings.Index(text, `"format_version"`), strings.Index(text, `"payload_encoding"`))
}

func TestMetadata_UnknownKeysPreserved(t *testing.T) {
	t.Parallel()

	raw := `{"codec":"ecomp","format_version":"1.0.0","num_sequences":2,
		"alignment_length":8,"alphabet":["A"],"payload_encoding":"raw",
		"bits_per_symbol":1,"bitmask_bytes":1,"sequence_id_codec":"inline",
		"ordering_strategy":"baseline",
		"custom_tool":{"nested":true},"pipeline_run":42}`

	meta, err := DecodeMetadata([]byte(raw))
	require.NoError(t, err)
	require.Contains(t, meta.Extra, "custom_tool")
	require.Contains(t, meta.Extra, "pipeline_run")

	doc, err := EncodeMetadata(meta)
	require.NoError(t, err)
	reparsed, err := DecodeMetadata(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nested":true}`, string(reparsed.Extra["custom_tool"]))
	assert.JSONEq(t, `42`, string(reparsed.Extra["pipeline_run"]))
}

func TestMetadata_CompressedForm(t *testing.T) {
	t.Parallel()

	meta := sampleMetadata()
	ids := make([]string, 400)
	for i := range ids {
		ids[i] = "sequence_identifier_with_a_long_shared_prefix"
	}
	meta.SequenceIDs = ids

	doc, err := EncodeMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, "ECMZ", string(doc[:4]))
	assert.Equal(t, byte(1), doc[4])

	got, err := DecodeMetadata(doc)
	require.NoError(t, err)
	assert.Equal(t, ids, got.SequenceIDs)
}

func TestEncodeMetadata_NeverExceedsPlainJSON(t *testing.T) {
	t.Parallel()

	meta := sampleMetadata()
	plain, err := json.Marshal(meta)
	require.NoError(t, err)

	doc, err := EncodeMetadata(meta)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(doc), len(plain))
}

func TestMetadata_FallbackObject(t *testing.T) {
	t.Parallel()

	meta := sampleMetadata()
	meta.Fallback = &Fallback{Type: "gzip", Format: "fasta"}
	meta.Permutation = &SequencePermutation{Encoding: PermutationInPayload}

	doc, err := EncodeMetadata(meta)
	require.NoError(t, err)
	got, err := DecodeMetadata(doc)
	require.NoError(t, err)

	require.NotNil(t, got.Fallback)
	assert.Equal(t, "gzip", got.Fallback.Type)
	assert.Equal(t, "fasta", got.Fallback.Format)
	require.NotNil(t, got.Permutation)
	assert.Equal(t, PermutationInPayload, got.Permutation.Encoding)
}

func TestDecodeMetadata_Invalid(t *testing.T) {
	t.Parallel()

	_, err := DecodeMetadata([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeMetadata([]byte("ECMZ\x02garbage"))
	require.Error(t, err)

	_, err = DecodeMetadata([]byte("ECMZ\x01notzlib"))
	require.Error(t, err)
}
