package genomics

import (
	"context"

	"github.com/vardalab/varda-engine/pkg/models"
)

// FrequencySource abstracts the store queries the frequency calculator
// needs. A sampleID of zero scopes the counts to all active samples with a
// coverage profile; otherwise to the one given sample.
type FrequencySource interface {
	// CoverageAt counts sample chromosome copies covering the position.
	CoverageAt(ctx context.Context, chromosome string, position int64, sampleID int64) (int, error)

	// ObservationCounts counts supporting observations of the variant,
	// split by zygosity.
	ObservationCounts(ctx context.Context, variant models.Variant, sampleID int64) (het, hom int, err error)
}

// Frequency is an observed variant frequency over a coverage denominator.
type Frequency struct {
	Coverage     int     `json:"coverage"`
	Heterozygous float64 `json:"frequency_het"`
	Homozygous   float64 `json:"frequency_hom"`
}

// Total is the combined het+hom frequency.
func (f Frequency) Total() float64 {
	return f.Heterozygous + f.Homozygous
}

// CalculateFrequency computes the observed frequency of a variant, either
// globally (sampleID zero) or within one sample.
func CalculateFrequency(ctx context.Context, src FrequencySource, variant models.Variant, sampleID int64) (Frequency, error) {
	coverage, err := src.CoverageAt(ctx, variant.Chromosome, variant.Position, sampleID)
	if err != nil {
		return Frequency{}, err
	}
	het, hom, err := src.ObservationCounts(ctx, variant, sampleID)
	if err != nil {
		return Frequency{}, err
	}

	freq := Frequency{Coverage: coverage}
	if coverage > 0 {
		freq.Heterozygous = float64(het) / float64(coverage)
		freq.Homozygous = float64(hom) / float64(coverage)
	}
	return freq, nil
}
