package genomics

import (
	"fmt"
	"strings"

	"github.com/vardalab/varda-engine/pkg/models"
)

// MismatchError reports a region or variant that does not fit the reference
// genome (unknown chromosome, out-of-range positions). It maps to a
// validation failure at the API surface.
type MismatchError struct {
	Message string
}

func (e *MismatchError) Error() string { return e.Message }

// chromosomes is the accepted reference chromosome set.
var chromosomes = func() map[string]bool {
	m := make(map[string]bool, 25)
	for i := 1; i <= 22; i++ {
		m[fmt.Sprintf("%d", i)] = true
	}
	m["X"] = true
	m["Y"] = true
	m["MT"] = true
	return m
}()

// NormalizeChromosome maps common chromosome spellings ("chr1", "chrM") to
// the canonical names used in storage.
func NormalizeChromosome(chromosome string) (string, error) {
	name := strings.TrimPrefix(chromosome, "chr")
	if name == "M" {
		name = "MT"
	}
	if !chromosomes[name] {
		return "", &MismatchError{Message: fmt.Sprintf("unknown chromosome %q", chromosome)}
	}
	return name, nil
}

// NormalizeRegion validates and canonicalizes a 1-based inclusive region.
func NormalizeRegion(chromosome string, begin, end int64) (string, int64, int64, error) {
	name, err := NormalizeChromosome(chromosome)
	if err != nil {
		return "", 0, 0, err
	}
	if begin < 1 || end < begin {
		return "", 0, 0, &MismatchError{Message: fmt.Sprintf("invalid region %d-%d", begin, end)}
	}
	if end > MaxPosition {
		return "", 0, 0, &MismatchError{Message: fmt.Sprintf("region end %d beyond chromosome bounds", end)}
	}
	return name, begin, end, nil
}

// NormalizeVariant canonicalizes a variant: chromosome naming, then
// trimming of the common suffix and prefix shared by the reference and
// observed alleles, shifting the position over the trimmed prefix.
func NormalizeVariant(chromosome string, position int64, reference, observed string) (models.Variant, error) {
	name, err := NormalizeChromosome(chromosome)
	if err != nil {
		return models.Variant{}, err
	}
	if position < 1 || position > MaxPosition {
		return models.Variant{}, &MismatchError{Message: fmt.Sprintf("position %d out of range", position)}
	}

	reference = strings.ToUpper(reference)
	observed = strings.ToUpper(observed)

	for len(reference) > 0 && len(observed) > 0 &&
		reference[len(reference)-1] == observed[len(observed)-1] {
		reference = reference[:len(reference)-1]
		observed = observed[:len(observed)-1]
	}
	for len(reference) > 0 && len(observed) > 0 && reference[0] == observed[0] {
		reference = reference[1:]
		observed = observed[1:]
		position++
	}

	return models.Variant{
		Chromosome: name,
		Position:   position,
		Reference:  reference,
		Observed:   observed,
	}, nil
}
