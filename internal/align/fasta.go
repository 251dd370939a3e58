package align

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ToFASTA renders the frame as FASTA bytes, one record per row.
func ToFASTA(f *Frame) []byte {
	var buf bytes.Buffer
	for i, id := range f.IDs {
		buf.WriteByte('>')
		buf.WriteString(id)
		buf.WriteByte('\n')
		buf.Write(f.Sequences[i])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseFASTA reads FASTA records and returns the reconstructed frame.
// Blank lines are skipped; multi-line sequences are concatenated.
func ParseFASTA(data []byte) (*Frame, error) {
	var (
		ids     []string
		seqs    [][]byte
		current []byte
		open    bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if line[0] == '>' {
			if open {
				seqs = append(seqs, current)
			}
			ids = append(ids, line[1:])
			current = nil
			open = true
			continue
		}
		if !open {
			return nil, errors.New("invalid FASTA: sequence data before first header")
		}
		current = append(current, line...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading FASTA: %w", err)
	}
	if open {
		seqs = append(seqs, current)
	}

	return NewFrame(ids, seqs, nil)
}

// ReadFASTA parses FASTA from a reader, transparently unwrapping gzip input
// when the stream starts with the gzip magic bytes.
func ReadFASTA(r io.Reader) (*Frame, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("inspecting input: %w", err)
	}
	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip input: %w", err)
		}
		defer gz.Close() //nolint:errcheck // read-side close during cleanup
		src = gz
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return ParseFASTA(data)
}
