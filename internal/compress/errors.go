// Package compress wires the stages of the ecomp codec into the encode and
// decode pipelines and owns the archive-level failure taxonomy.
package compress

import "errors"

// Failure categories. Every Decompress error and every input-validation
// error from Compress wraps exactly one of these; errors from Compress's
// encoding stages (block encoder, chunks, outer and fallback coding) wrap
// none. All failures abort the operation with no partial output.
var (
	// ErrMalformedInput covers row-length mismatches, non-ASCII symbols,
	// duplicate identifiers, and invalid permutation hints.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMalformedArchive covers header, magic, version, length, mode-byte,
	// and bounds violations inside an archive.
	ErrMalformedArchive = errors.New("malformed archive")

	// ErrIntegrityFailure reports a checksum mismatch after reconstruction.
	ErrIntegrityFailure = errors.New("integrity failure")

	// ErrUnsupportedEncoding reports a payload_encoding this build cannot
	// decode.
	ErrUnsupportedEncoding = errors.New("unsupported payload encoding")

	// ErrFallbackInconsistency reports a gzip fallback whose payload is not
	// a valid gzip stream.
	ErrFallbackInconsistency = errors.New("fallback inconsistency")
)
