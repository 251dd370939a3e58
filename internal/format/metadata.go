package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Payload encodings the decoder understands.
const (
	EncodingRaw  = "raw"
	EncodingZlib = "zlib"
	EncodingZstd = "zstd"
	EncodingXZ   = "xz"
	EncodingGzip = "gzip"
)

// Codec names carried in metadata.
const (
	CodecName = "ecomp"

	SequenceIDCodecInline = "inline"
)

// metadataCompressedMagic tags a zlib-compressed metadata document.
var metadataCompressedMagic = []byte("ECMZ")

const metadataCompressedVersion byte = 1

// Fallback describes a payload that bypassed the structural codec.
type Fallback struct {
	Type   string `json:"type"`
	Format string `json:"format"`
}

// SequencePermutation states where the row permutation is stored.
type SequencePermutation struct {
	Encoding string `json:"encoding"`
}

// PermutationInPayload marks a permutation carried as an ECPE chunk at the
// start of the payload.
const PermutationInPayload = "payload"

// Metadata is the structured document accompanying an archive payload.
// Unknown keys survive a decode/encode round trip.
type Metadata struct {
	FormatVersion    string
	Codec            string
	NumSequences     int
	AlignmentLength  int
	Alphabet         []string
	PayloadEncoding  string
	BitsPerSymbol    int
	BitmaskBytes     int
	SequenceIDCodec  string
	OrderingStrategy string
	SourceFormat     string

	ChecksumSHA256        string
	Permutation           *SequencePermutation
	SequenceIDs           []string
	Fallback              *Fallback
	RunLengthBlocks       *int
	MaxRunLength          *int
	ColumnsWithDeviations *int
	PayloadEncodedBytes   *int
	PayloadRawBytes       *int

	Extra map[string]json.RawMessage
}

// metadata JSON keys.
const (
	keyFormatVersion         = "format_version"
	keyCodec                 = "codec"
	keyNumSequences          = "num_sequences"
	keyAlignmentLength       = "alignment_length"
	keyAlphabet              = "alphabet"
	keyPayloadEncoding       = "payload_encoding"
	keyBitsPerSymbol         = "bits_per_symbol"
	keyBitmaskBytes          = "bitmask_bytes"
	keySequenceIDCodec       = "sequence_id_codec"
	keyOrderingStrategy      = "ordering_strategy"
	keySourceFormat          = "source_format"
	keyChecksumSHA256        = "checksum_sha256"
	keySequencePermutation   = "sequence_permutation"
	keySequenceIDs           = "sequence_ids"
	keyFallback              = "fallback"
	keyRunLengthBlocks       = "run_length_blocks"
	keyMaxRunLength          = "max_run_length"
	keyColumnsWithDeviations = "columns_with_deviations"
	keyPayloadEncodedBytes   = "payload_encoded_bytes"
	keyPayloadRawBytes       = "payload_raw_bytes"
)

// MarshalJSON emits the document with sorted keys (map marshaling sorts).
func (m *Metadata) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, 20+len(m.Extra))
	for k, v := range m.Extra {
		doc[k] = v
	}
	doc[keyFormatVersion] = m.FormatVersion
	doc[keyCodec] = m.Codec
	doc[keyNumSequences] = m.NumSequences
	doc[keyAlignmentLength] = m.AlignmentLength
	doc[keyAlphabet] = m.Alphabet
	doc[keyPayloadEncoding] = m.PayloadEncoding
	doc[keyBitsPerSymbol] = m.BitsPerSymbol
	doc[keyBitmaskBytes] = m.BitmaskBytes
	doc[keySequenceIDCodec] = m.SequenceIDCodec
	doc[keyOrderingStrategy] = m.OrderingStrategy
	if m.SourceFormat != "" {
		doc[keySourceFormat] = m.SourceFormat
	}
	if m.ChecksumSHA256 != "" {
		doc[keyChecksumSHA256] = m.ChecksumSHA256
	}
	if m.Permutation != nil {
		doc[keySequencePermutation] = m.Permutation
	}
	if m.SequenceIDs != nil {
		doc[keySequenceIDs] = m.SequenceIDs
	}
	if m.Fallback != nil {
		doc[keyFallback] = m.Fallback
	}
	if m.RunLengthBlocks != nil {
		doc[keyRunLengthBlocks] = *m.RunLengthBlocks
	}
	if m.MaxRunLength != nil {
		doc[keyMaxRunLength] = *m.MaxRunLength
	}
	if m.ColumnsWithDeviations != nil {
		doc[keyColumnsWithDeviations] = *m.ColumnsWithDeviations
	}
	if m.PayloadEncodedBytes != nil {
		doc[keyPayloadEncodedBytes] = *m.PayloadEncodedBytes
	}
	if m.PayloadRawBytes != nil {
		doc[keyPayloadRawBytes] = *m.PayloadRawBytes
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses known keys into fields and keeps the rest in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	take := func(key string, dst any) error {
		raw, ok := doc[key]
		if !ok {
			return nil
		}
		delete(doc, key)
		return json.Unmarshal(raw, dst)
	}

	fields := []struct {
		key string
		dst any
	}{
		{keyFormatVersion, &m.FormatVersion},
		{keyCodec, &m.Codec},
		{keyNumSequences, &m.NumSequences},
		{keyAlignmentLength, &m.AlignmentLength},
		{keyAlphabet, &m.Alphabet},
		{keyPayloadEncoding, &m.PayloadEncoding},
		{keyBitsPerSymbol, &m.BitsPerSymbol},
		{keyBitmaskBytes, &m.BitmaskBytes},
		{keySequenceIDCodec, &m.SequenceIDCodec},
		{keyOrderingStrategy, &m.OrderingStrategy},
		{keySourceFormat, &m.SourceFormat},
		{keyChecksumSHA256, &m.ChecksumSHA256},
		{keySequencePermutation, &m.Permutation},
		{keySequenceIDs, &m.SequenceIDs},
		{keyFallback, &m.Fallback},
		{keyRunLengthBlocks, &m.RunLengthBlocks},
		{keyMaxRunLength, &m.MaxRunLength},
		{keyColumnsWithDeviations, &m.ColumnsWithDeviations},
		{keyPayloadEncodedBytes, &m.PayloadEncodedBytes},
		{keyPayloadRawBytes, &m.PayloadRawBytes},
	}
	for _, f := range fields {
		if err := take(f.key, f.dst); err != nil {
			return fmt.Errorf("metadata key %q: %w", f.key, err)
		}
	}
	if len(doc) > 0 {
		m.Extra = doc
	}
	return nil
}

// EncodeMetadata serializes the document as UTF-8 JSON with sorted keys.
// When the zlib-compressed form is smaller it is emitted instead, prefixed
// with the ECMZ tag and a version byte.
func EncodeMetadata(m *Metadata) ([]byte, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(metadataCompressedMagic)
	buf.WriteByte(metadataCompressedVersion)
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	if buf.Len() < len(plain) {
		return buf.Bytes(), nil
	}
	return plain, nil
}

// DecodeMetadata parses a metadata document, transparently unwrapping the
// ECMZ compressed form.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if bytes.HasPrefix(data, metadataCompressedMagic) {
		if len(data) < len(metadataCompressedMagic)+1 {
			return nil, fmt.Errorf("compressed metadata truncated")
		}
		version := data[len(metadataCompressedMagic)]
		if version != metadataCompressedVersion {
			return nil, fmt.Errorf("unsupported compressed metadata version %d", version)
		}
		zr, err := zlib.NewReader(bytes.NewReader(data[len(metadataCompressedMagic)+1:]))
		if err != nil {
			return nil, fmt.Errorf("opening compressed metadata: %w", err)
		}
		defer zr.Close() //nolint:errcheck // read-side close during cleanup
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing metadata: %w", err)
		}
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &m, nil
}
