// ecomp compresses and decompresses multiple sequence alignments.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vertti/ecomp/internal/align"
	"github.com/vertti/ecomp/internal/compress"
	"github.com/vertti/ecomp/internal/format"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	decompress   bool
	inputFile    string
	outputFile   string
	metadataFile string
	toStdout     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done := parseFlags()
	if done {
		return exitSuccess
	}

	if err := execute(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	return exitSuccess
}

func parseFlags() (config, bool) {
	var cfg config
	var showVersion, showHelp bool

	flag.BoolVar(&cfg.decompress, "d", false, "decompress mode")
	flag.StringVar(&cfg.inputFile, "i", "", "input file (default: stdin)")
	flag.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout)")
	flag.StringVar(&cfg.metadataFile, "m", "", "metadata file (default: derived from archive path)")
	flag.BoolVar(&cfg.toStdout, "c", false, "write to stdout")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return cfg, true
	}

	if showVersion {
		fmt.Printf("ecomp version %s\n", version)
		return cfg, true
	}

	// Handle positional arguments
	args := flag.Args()
	if len(args) > 0 && cfg.inputFile == "" {
		cfg.inputFile = args[0]
	}
	if len(args) > 1 && cfg.outputFile == "" {
		cfg.outputFile = args[1]
	}

	return cfg, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `ecomp - Lossless alignment compression tool

Usage:
  ecomp [options] [-i input.fasta] [-o output.ecomp]   Compress alignment
  ecomp -d [-i input.ecomp] [-o output.fasta]          Decompress

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  ecomp -i msa.fasta -o msa.ecomp            Compress file
  ecomp -i msa.fasta.gz -o msa.ecomp         Compress gzip input
  ecomp -d -i msa.ecomp -o msa.fasta         Decompress file
  cat msa.fasta | ecomp -c -m msa.json       Compress from stdin

The metadata document is written next to the archive (archive path with a
.json suffix) unless -m names another location.
`)
}

func execute(cfg config) error {
	if cfg.decompress {
		return runDecompress(cfg)
	}
	return runCompress(cfg)
}

func runCompress(cfg config) error {
	input, cleanup, err := openInput(cfg.inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	frame, err := align.ReadFASTA(input)
	if err != nil {
		return fmt.Errorf("parsing alignment: %w", err)
	}

	payload, meta, err := compress.Compress(frame, &compress.Options{SourceFormat: "fasta"})
	if err != nil {
		return err
	}

	metaDoc, err := format.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	metaPath := cfg.metadataFile
	if metaPath == "" {
		if cfg.outputFile == "" || cfg.outputFile == "-" || cfg.toStdout {
			return fmt.Errorf("writing to stdout requires -m for the metadata document")
		}
		metaPath = deriveMetadataPath(cfg.outputFile)
	}
	if err := os.WriteFile(metaPath, metaDoc, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	output, cleanup, err := openOutput(cfg.outputFile, cfg.toStdout)
	if err != nil {
		return err
	}
	defer cleanup()

	return format.WriteArchive(output, payload)
}

func runDecompress(cfg config) error {
	input, cleanup, err := openInput(cfg.inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	payload, err := format.ReadArchive(input)
	if err != nil {
		return err
	}

	metaPath := cfg.metadataFile
	if metaPath == "" {
		if cfg.inputFile == "" || cfg.inputFile == "-" {
			return fmt.Errorf("decompressing from stdin requires -m for the metadata document")
		}
		metaPath = deriveMetadataPath(cfg.inputFile)
	}
	metaDoc, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}
	meta, err := format.DecodeMetadata(metaDoc)
	if err != nil {
		return err
	}

	frame, err := compress.Decompress(payload, meta)
	if err != nil {
		return err
	}

	output, cleanup, err := openOutput(cfg.outputFile, cfg.toStdout)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = output.Write(align.ToFASTA(frame))
	return err
}

// deriveMetadataPath swaps an .ecomp suffix for .json, or appends .json.
func deriveMetadataPath(archivePath string) string {
	if strings.HasSuffix(archivePath, ".ecomp") {
		return strings.TrimSuffix(archivePath, ".ecomp") + ".json"
	}
	return archivePath + ".json"
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		br := bufio.NewReaderSize(os.Stdin, 1<<20)
		return br, func() {}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	return bytes.NewReader(data), func() {}, nil
}

func openOutput(path string, toStdout bool) (io.Writer, func(), error) {
	if path == "" || path == "-" || toStdout {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}
