package compress

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/vertti/ecomp/internal/align"
	"github.com/vertti/ecomp/internal/codec"
	"github.com/vertti/ecomp/internal/encoder"
	"github.com/vertti/ecomp/internal/format"
)

// Options configures compression behavior.
type Options struct {
	// Permutation is an optional row-ordering hint: Permutation[k] is the
	// original row index stored at position k. The decoder restores the
	// original order. How the hint is computed is the caller's business.
	Permutation []int

	// OrderingStrategy labels the origin of the permutation hint in
	// metadata. Defaults to "baseline".
	OrderingStrategy string

	// SourceFormat records the source file format in metadata.
	SourceFormat string
}

const defaultOrdering = "baseline"

// Compress encodes the frame into an archive payload and its metadata
// document. The payload carries the optional permutation chunk, the
// identifier chunk, and the structural block stream, wrapped in the
// smallest of the outer codings; a gzip-of-FASTA fallback replaces the
// whole payload when it is strictly smaller.
func Compress(frame *align.Frame, opts *Options) ([]byte, *format.Metadata, error) {
	if opts == nil {
		opts = &Options{}
	}

	frame, err := align.NewFrame(frame.IDs, frame.Sequences, frame.Alphabet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMalformedInput, err)
	}
	numRows := frame.NumSequences()

	checksum := frame.Checksum()

	stored := frame
	perm := opts.Permutation
	permuted := false
	if len(perm) > 0 {
		if err := validatePermutation(perm, numRows); err != nil {
			return nil, nil, fmt.Errorf("%w: permutation hint: %s", ErrMalformedInput, err)
		}
		if !isIdentity(perm) {
			stored = applyPermutation(frame, perm)
			permuted = true
		}
	}

	blocks := codec.Aggregate(codec.NewProfiler(stored.Sequences), numRows)
	blockPayload, stats, err := codec.EncodePayload(blocks, numRows)
	if err != nil {
		return nil, nil, fmt.Errorf("block encoder: %w", err)
	}

	idChunk, err := format.EncodeIdentifierChunk(stored.IDs)
	if err != nil {
		return nil, nil, fmt.Errorf("identifier chunk: %w", err)
	}

	var raw []byte
	if permuted {
		permChunk, err := format.EncodePermutationChunk(perm)
		if err != nil {
			return nil, nil, fmt.Errorf("permutation chunk: %w", err)
		}
		raw = append(raw, permChunk...)
	}
	raw = append(raw, idChunk...)
	raw = append(raw, blockPayload...)

	encoding, payload, err := encodeOuter(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("outer coding: %w", err)
	}

	ordering := opts.OrderingStrategy
	if ordering == "" {
		ordering = defaultOrdering
	}
	deviationColumns := countDeviationColumns(blocks)
	meta := &format.Metadata{
		FormatVersion:         format.FormatVersion,
		Codec:                 format.CodecName,
		NumSequences:          numRows,
		AlignmentLength:       frame.Length(),
		Alphabet:              alphabetStrings(frame.Alphabet),
		PayloadEncoding:       encoding,
		BitsPerSymbol:         globalBitsPerSymbol(len(frame.Alphabet)),
		BitmaskBytes:          encoder.MaskBytes(numRows),
		SequenceIDCodec:       format.SequenceIDCodecInline,
		OrderingStrategy:      ordering,
		SourceFormat:          opts.SourceFormat,
		ChecksumSHA256:        checksum,
		RunLengthBlocks:       intPtr(stats.Blocks),
		MaxRunLength:          intPtr(stats.MaxRunLength),
		ColumnsWithDeviations: intPtr(deviationColumns),
		PayloadEncodedBytes:   intPtr(len(payload)),
		PayloadRawBytes:       intPtr(len(raw)),
	}
	if permuted {
		meta.Permutation = &format.SequencePermutation{Encoding: format.PermutationInPayload}
	}

	return applyGzipFallback(frame, payload, meta, opts)
}

// applyGzipFallback substitutes gzip-of-FASTA for the structural payload
// when it is strictly smaller than both the payload and the FASTA bytes.
func applyGzipFallback(frame *align.Frame, payload []byte, meta *format.Metadata, opts *Options) ([]byte, *format.Metadata, error) {
	fasta := align.ToFASTA(frame)
	gz, err := gzipCompress(fasta)
	if err != nil {
		return nil, nil, fmt.Errorf("fallback gzip: %w", err)
	}
	if len(gz) >= len(payload) || len(gz) >= len(fasta) {
		return payload, meta, nil
	}

	sourceFormat := opts.SourceFormat
	if sourceFormat == "" {
		sourceFormat = "fasta"
	}
	meta.Fallback = &format.Fallback{Type: "gzip", Format: sourceFormat}
	meta.PayloadEncoding = format.EncodingGzip
	meta.PayloadEncodedBytes = intPtr(len(gz))
	meta.PayloadRawBytes = intPtr(len(fasta))
	meta.Permutation = nil
	meta.RunLengthBlocks = nil
	meta.MaxRunLength = nil
	meta.ColumnsWithDeviations = nil
	return gz, meta, nil
}

// Decompress reconstructs the alignment frame from an archive payload and
// its metadata document.
func Decompress(payload []byte, meta *format.Metadata) (*align.Frame, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: missing metadata document", ErrMalformedArchive)
	}
	if meta.Fallback != nil {
		return decompressFallback(payload, meta)
	}
	if meta.PayloadEncoding == format.EncodingGzip {
		return nil, fmt.Errorf("%w: gzip payload without fallback metadata", ErrMalformedArchive)
	}

	numRows := meta.NumSequences
	numColumns := meta.AlignmentLength
	if numRows < 0 || numColumns < 0 {
		return nil, fmt.Errorf("%w: negative alignment dimensions", ErrMalformedArchive)
	}

	raw, err := decodeOuter(meta.PayloadEncoding, payload)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEncoding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: outer coding: %s", ErrMalformedArchive, err)
	}

	var perm []int
	if meta.Permutation != nil {
		if meta.Permutation.Encoding != format.PermutationInPayload {
			return nil, fmt.Errorf("%w: unknown permutation encoding %q", ErrMalformedArchive, meta.Permutation.Encoding)
		}
		perm, raw, err = format.DecodePermutationChunk(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: permutation chunk: %s", ErrMalformedArchive, err)
		}
		if err := validatePermutation(perm, numRows); err != nil {
			return nil, fmt.Errorf("%w: permutation chunk: %s", ErrMalformedArchive, err)
		}
	}

	ids, raw, err := format.DecodeIdentifierChunk(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: identifier chunk: %s", ErrMalformedArchive, err)
	}
	if len(ids) != numRows {
		return nil, fmt.Errorf("%w: identifier chunk holds %d names for %d rows", ErrMalformedArchive, len(ids), numRows)
	}
	if meta.SequenceIDs != nil && !stringsEqual(meta.SequenceIDs, ids) {
		return nil, fmt.Errorf("%w: sequence ids differ between metadata and payload", ErrMalformedArchive)
	}

	blocks, err := codec.DecodePayload(raw, numRows)
	if err != nil {
		return nil, fmt.Errorf("%w: block stream: %s", ErrMalformedArchive, err)
	}
	rows, err := codec.ExpandBlocks(blocks, numRows, numColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: column emission: %s", ErrMalformedArchive, err)
	}

	if perm != nil {
		rows, ids = invertPermutation(rows, ids, perm)
	}

	if meta.ChecksumSHA256 != "" {
		got := checksumRows(rows)
		if got != meta.ChecksumSHA256 {
			return nil, fmt.Errorf("%w: sha256 %s does not match metadata %s", ErrIntegrityFailure, got, meta.ChecksumSHA256)
		}
	}

	frame, err := align.NewFrame(ids, rows, alphabetBytes(meta.Alphabet))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedArchive, err)
	}
	return frame, nil
}

// decompressFallback decodes a gzip-of-FASTA payload directly.
func decompressFallback(payload []byte, meta *format.Metadata) (*align.Frame, error) {
	if meta.Fallback.Type != "gzip" {
		return nil, fmt.Errorf("%w: unsupported fallback type %q", ErrUnsupportedEncoding, meta.Fallback.Type)
	}
	fasta, err := gzipDecompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFallbackInconsistency, err)
	}
	frame, err := align.ParseFASTA(fasta)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback FASTA: %s", ErrMalformedArchive, err)
	}
	if meta.ChecksumSHA256 != "" && frame.Checksum() != meta.ChecksumSHA256 {
		return nil, fmt.Errorf("%w: fallback checksum mismatch", ErrIntegrityFailure)
	}
	return frame, nil
}

func validatePermutation(perm []int, numRows int) error {
	if len(perm) != numRows {
		return fmt.Errorf("permutation has %d entries for %d rows", len(perm), numRows)
	}
	seen := make([]bool, numRows)
	for _, idx := range perm {
		if idx < 0 || idx >= numRows {
			return fmt.Errorf("permutation index %d out of range", idx)
		}
		if seen[idx] {
			return fmt.Errorf("permutation repeats index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

func isIdentity(perm []int) bool {
	for i, idx := range perm {
		if i != idx {
			return false
		}
	}
	return true
}

// applyPermutation reorders rows into storage order: position k receives
// original row perm[k].
func applyPermutation(frame *align.Frame, perm []int) *align.Frame {
	ids := make([]string, len(perm))
	seqs := make([][]byte, len(perm))
	for k, idx := range perm {
		ids[k] = frame.IDs[idx]
		seqs[k] = frame.Sequences[idx]
	}
	return &align.Frame{IDs: ids, Sequences: seqs, Alphabet: frame.Alphabet}
}

// invertPermutation restores original row order: original position perm[k]
// receives stored row k.
func invertPermutation(rows [][]byte, ids []string, perm []int) ([][]byte, []string) {
	outRows := make([][]byte, len(rows))
	outIDs := make([]string, len(ids))
	for k, idx := range perm {
		outRows[idx] = rows[k]
		outIDs[idx] = ids[k]
	}
	return outRows, outIDs
}

func countDeviationColumns(blocks []codec.Block) int {
	n := 0
	for _, b := range blocks {
		if len(b.Residues) > 0 {
			n += b.RunLength
		}
	}
	return n
}

// globalBitsPerSymbol is the legacy whole-alphabet width reported in
// metadata.
func globalBitsPerSymbol(alphabetSize int) int {
	if alphabetSize <= 1 {
		return 1
	}
	return bits.Len(uint(alphabetSize - 1))
}

func alphabetStrings(alphabet []byte) []string {
	out := make([]string, len(alphabet))
	for i, b := range alphabet {
		out[i] = string(rune(b))
	}
	return out
}

func alphabetBytes(alphabet []string) []byte {
	var out []byte
	for _, s := range alphabet {
		out = append(out, s...)
	}
	return out
}

func checksumRows(rows [][]byte) string {
	f := align.Frame{Sequences: rows}
	return f.Checksum()
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intPtr(v int) *int { return &v }
