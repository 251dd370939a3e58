package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/ecomp/internal/format"
)

// outerCandidates is the trial order for the outer coder; ties keep the
// earliest candidate, so identity wins when nothing compresses.
var outerCandidates = []string{
	format.EncodingRaw,
	format.EncodingZstd,
	format.EncodingZlib,
	format.EncodingXZ,
}

// encodeOuter tries every outer coding of the raw payload concurrently and
// returns the smallest along with its encoding name. Selection is
// deterministic: candidate order breaks size ties.
func encodeOuter(raw []byte) (string, []byte, error) {
	results := make([][]byte, len(outerCandidates))

	var g errgroup.Group
	for i, name := range outerCandidates {
		g.Go(func() error {
			encoded, err := outerEncode(name, raw)
			if err != nil {
				return fmt.Errorf("%s outer coding: %w", name, err)
			}
			results[i] = encoded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	best := 0
	for i := 1; i < len(results); i++ {
		if len(results[i]) < len(results[best]) {
			best = i
		}
	}
	return outerCandidates[best], results[best], nil
}

func outerEncode(name string, raw []byte) ([]byte, error) {
	switch name {
	case format.EncodingRaw:
		return raw, nil
	case format.EncodingZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(raw, nil)
		return out, enc.Close()
	case format.EncodingZlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case format.EncodingXZ:
		var buf bytes.Buffer
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := xw.Write(raw); err != nil {
			return nil, err
		}
		if err := xw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown outer candidate %q", name)
	}
}

// decodeOuter reverses the outer coding named by payload_encoding.
func decodeOuter(name string, payload []byte) ([]byte, error) {
	switch name {
	case format.EncodingRaw, "":
		return payload, nil
	case format.EncodingZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, nil)
	case format.EncodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer zr.Close() //nolint:errcheck // read-side close during cleanup
		return io.ReadAll(zr)
	case format.EncodingXZ:
		xr, err := xz.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(xr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
}

// gzipCompress produces the gzip stream used by the fallback path.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close() //nolint:errcheck // read-side close during cleanup
	return io.ReadAll(gr)
}
