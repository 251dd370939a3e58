package codec

import (
	"github.com/vertti/ecomp/internal/encoder"
)

// MaxRunLength is the per-block run cap; longer runs split.
const MaxRunLength = 255

// Block is a contiguous run of columns sharing one (consensus,
// deviation-pattern). Mask is the full raw bitmask (one bit per row,
// LSB-of-bit-0 layout); Residues holds the deviating symbols in
// row-ascending order, one per set mask bit.
type Block struct {
	RunLength int
	Consensus byte
	Mask      []byte
	Residues  []byte
}

// Aggregate consumes the profiler and collapses runs of equivalent adjacent
// columns into blocks. Two columns are equivalent iff their consensus bytes
// match and their deviation lists are pairwise equal.
func Aggregate(p *Profiler, numRows int) []Block {
	var blocks []Block

	var (
		current ColumnProfile
		run     int
		open    bool
	)
	flush := func() {
		if !open || run == 0 {
			return
		}
		blocks = append(blocks, newBlock(current, run, numRows))
	}

	for {
		profile, ok := p.Next()
		if !ok {
			break
		}
		if open && run < MaxRunLength && profilesEqual(current, profile) {
			run++
			continue
		}
		flush()
		current = profile
		run = 1
		open = true
	}
	flush()
	return blocks
}

func profilesEqual(a, b ColumnProfile) bool {
	if a.Consensus != b.Consensus || len(a.Deviations) != len(b.Deviations) {
		return false
	}
	for i := range a.Deviations {
		if a.Deviations[i] != b.Deviations[i] {
			return false
		}
	}
	return true
}

func newBlock(profile ColumnProfile, run, numRows int) Block {
	mask := make([]byte, encoder.MaskBytes(numRows))
	var residues []byte
	for _, dev := range profile.Deviations {
		encoder.SetMaskBit(mask, dev.Row)
		residues = append(residues, dev.Residue)
	}
	return Block{
		RunLength: run,
		Consensus: profile.Consensus,
		Mask:      mask,
		Residues:  residues,
	}
}
