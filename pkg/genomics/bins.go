// Package genomics holds the domain functions behind the variant query
// surface: UCSC-style region binning, variant/region normalization and
// observed-frequency calculation.
package genomics

// UCSC binning scheme constants. Features are stored with the smallest bin
// fully containing them; range queries enumerate every bin that could hold
// an overlapping feature.
const (
	binFirstShift = 17
	binNextShift  = 3
)

// binOffsets are the starting bin numbers per level, finest first.
var binOffsets = []int{512 + 64 + 8 + 1, 64 + 8 + 1, 8 + 1, 1, 0}

// MaxPosition is the largest supported genomic position (512 Mbp, the limit
// of the standard binning scheme).
const MaxPosition = 512 * 1024 * 1024

// Bin returns the smallest bin containing the 1-based inclusive interval
// [begin, end].
func Bin(begin, end int64) int {
	start, stop := begin-1, end // to 0-based half-open
	startBin, stopBin := start>>binFirstShift, (stop-1)>>binFirstShift
	for _, offset := range binOffsets {
		if startBin == stopBin {
			return offset + int(startBin)
		}
		startBin >>= binNextShift
		stopBin >>= binNextShift
	}
	// Unreachable for positions within MaxPosition.
	return 0
}

// OverlappingBins returns every bin that may contain a feature overlapping
// the 1-based inclusive interval [begin, end], for use in range queries.
func OverlappingBins(begin, end int64) []int {
	start, stop := begin-1, end
	startBin, stopBin := start>>binFirstShift, (stop-1)>>binFirstShift
	var bins []int
	for _, offset := range binOffsets {
		for b := startBin; b <= stopBin; b++ {
			bins = append(bins, offset+int(b))
		}
		startBin >>= binNextShift
		stopBin >>= binNextShift
	}
	return bins
}
