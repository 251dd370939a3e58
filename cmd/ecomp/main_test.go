package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestDeriveMetadataPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"msa.ecomp", "msa.json"},
		{"dir/msa.ecomp", "dir/msa.json"},
		{"archive.bin", "archive.bin.json"},
	}
	for _, tt := range tests {
		if got := deriveMetadataPath(tt.in); got != tt.want {
			t.Errorf("deriveMetadataPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExecute_CompressDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	fasta := []byte(">s1\nACGTACGT\n>s2\nACGTACGT\n>s3\nACGAACGT\n")
	dir := t.TempDir()
	fastaPath := filepath.Join(dir, "msa.fasta")
	archivePath := filepath.Join(dir, "msa.ecomp")
	restoredPath := filepath.Join(dir, "restored.fasta")

	if err := os.WriteFile(fastaPath, fasta, 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := execute(config{inputFile: fastaPath, outputFile: archivePath}); err != nil {
		t.Fatalf("compress: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "msa.json")); err != nil {
		t.Fatalf("metadata sidecar missing: %v", err)
	}

	if err := execute(config{decompress: true, inputFile: archivePath, outputFile: restoredPath}); err != nil {
		t.Fatalf("decompress: %v", err)
	}

	got, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(got, fasta) {
		t.Fatalf("round trip mismatch: got %q want %q", got, fasta)
	}
}

func TestExecute_GzipInput(t *testing.T) {
	t.Parallel()

	fasta := []byte(">s1\nACGT\n>s2\nACGA\n")
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "msa.fasta.gz")
	archivePath := filepath.Join(dir, "msa.ecomp")
	restoredPath := filepath.Join(dir, "restored.fasta")

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(fasta); err != nil {
		t.Fatalf("gzip input: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := os.WriteFile(gzPath, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := execute(config{inputFile: gzPath, outputFile: archivePath}); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := execute(config{decompress: true, inputFile: archivePath, outputFile: restoredPath}); err != nil {
		t.Fatalf("decompress: %v", err)
	}

	got, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(got, fasta) {
		t.Fatalf("round trip mismatch: got %q want %q", got, fasta)
	}
}

func TestExecute_MissingInput(t *testing.T) {
	t.Parallel()

	err := execute(config{inputFile: filepath.Join(t.TempDir(), "absent.fasta"), outputFile: "out.ecomp"})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
}
