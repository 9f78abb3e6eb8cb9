package genomics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vardalab/varda-engine/pkg/models"
)

func TestBin_SmallestContainingBin(t *testing.T) {
	// A 1bp feature at the chromosome start lands in the first fine bin.
	assert.Equal(t, 585, Bin(1, 1))

	// The full first fine-bin interval (128kb) still fits bin 585.
	assert.Equal(t, 585, Bin(1, 128*1024))

	// One base past the fine-bin boundary escalates a level.
	assert.Equal(t, 73, Bin(1, 128*1024+1))

	// A feature spanning everything needs the root bin.
	assert.Equal(t, 0, Bin(1, MaxPosition))
}

func TestBin_AdjacentFineBins(t *testing.T) {
	assert.Equal(t, 585, Bin(128*1024, 128*1024))
	assert.Equal(t, 586, Bin(128*1024+1, 128*1024+1))
}

func TestOverlappingBins_ContainsOwnBinAndAncestors(t *testing.T) {
	bins := OverlappingBins(1, 1)
	assert.Equal(t, []int{585, 73, 9, 1, 0}, bins)
}

func TestOverlappingBins_CoversStoredFeatures(t *testing.T) {
	// Every feature overlapping the query region must be stored under one
	// of the returned bins.
	queryBins := OverlappingBins(100_000, 300_000)
	for _, feature := range [][2]int64{
		{1, 128 * 1024},            // fine bin preceding, overlaps start
		{128*1024 + 1, 256 * 1024}, // fine bin inside
		{1, MaxPosition},           // root bin
		{299_000, 400_000},         // overlaps end
	} {
		assert.Contains(t, queryBins, Bin(feature[0], feature[1]),
			"feature %d-%d", feature[0], feature[1])
	}
}

func TestNormalizeChromosome(t *testing.T) {
	for input, want := range map[string]string{
		"1": "1", "chr1": "1", "X": "X", "chrX": "X", "chrM": "MT", "MT": "MT",
	} {
		got, err := NormalizeChromosome(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := NormalizeChromosome("chr99")
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestNormalizeRegion(t *testing.T) {
	chrom, begin, end, err := NormalizeRegion("chr2", 100, 200)
	require.NoError(t, err)
	assert.Equal(t, "2", chrom)
	assert.Equal(t, int64(100), begin)
	assert.Equal(t, int64(200), end)

	_, _, _, err = NormalizeRegion("2", 0, 200)
	assert.Error(t, err)
	_, _, _, err = NormalizeRegion("2", 200, 100)
	assert.Error(t, err)
	_, _, _, err = NormalizeRegion("2", 1, MaxPosition+1)
	assert.Error(t, err)
}

func TestNormalizeVariant_TrimsSharedSuffixThenPrefix(t *testing.T) {
	// TAG>TG: shared suffix G, then shared prefix T, leaving A> at pos+1.
	v, err := NormalizeVariant("chr1", 100, "TAG", "TG")
	require.NoError(t, err)
	assert.Equal(t, models.Variant{Chromosome: "1", Position: 101, Reference: "A", Observed: ""}, v)
}

func TestNormalizeVariant_UppercasesAlleles(t *testing.T) {
	v, err := NormalizeVariant("1", 50, "a", "t")
	require.NoError(t, err)
	assert.Equal(t, "A", v.Reference)
	assert.Equal(t, "T", v.Observed)
}

func TestNormalizeVariant_PlainSNV(t *testing.T) {
	v, err := NormalizeVariant("1", 50, "A", "T")
	require.NoError(t, err)
	assert.Equal(t, models.Variant{Chromosome: "1", Position: 50, Reference: "A", Observed: "T"}, v)
}

func TestNormalizeVariant_RejectsBadPosition(t *testing.T) {
	_, err := NormalizeVariant("1", 0, "A", "T")
	var mismatch *MismatchError
	assert.ErrorAs(t, err, &mismatch)
}

type stubSource struct {
	coverage int
	het, hom int
}

func (s stubSource) CoverageAt(context.Context, string, int64, int64) (int, error) {
	return s.coverage, nil
}

func (s stubSource) ObservationCounts(context.Context, models.Variant, int64) (int, int, error) {
	return s.het, s.hom, nil
}

func TestCalculateFrequency(t *testing.T) {
	freq, err := CalculateFrequency(context.Background(), stubSource{coverage: 10, het: 3, hom: 2},
		models.Variant{Chromosome: "1", Position: 100, Reference: "A", Observed: "T"}, 0)

	require.NoError(t, err)
	assert.Equal(t, 10, freq.Coverage)
	assert.InDelta(t, 0.3, freq.Heterozygous, 1e-9)
	assert.InDelta(t, 0.2, freq.Homozygous, 1e-9)
	assert.InDelta(t, 0.5, freq.Total(), 1e-9)
}

func TestCalculateFrequency_ZeroCoverage(t *testing.T) {
	freq, err := CalculateFrequency(context.Background(), stubSource{het: 3},
		models.Variant{Chromosome: "1", Position: 100}, 0)

	require.NoError(t, err)
	assert.Zero(t, freq.Coverage)
	assert.Zero(t, freq.Heterozygous)
	assert.Zero(t, freq.Homozygous)
}
