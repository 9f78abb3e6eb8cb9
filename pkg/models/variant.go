package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Observation zygosity values.
const (
	ZygosityHeterozygous = "heterozygous"
	ZygosityHomozygous   = "homozygous"
)

// Observation is one observed variant call inside a variation import. The
// bin column holds the UCSC-style region bin for fast range queries.
type Observation struct {
	ID          int64  `json:"id"`
	VariationID int64  `json:"variation_id"`
	Chromosome  string `json:"chromosome"`
	Position    int64  `json:"position"`
	Reference   string `json:"reference"`
	Observed    string `json:"observed"`
	Zygosity    string `json:"zygosity"`
	Support     int    `json:"support"`
	Bin         int    `json:"bin"`
}

// CoveredRegion is one region of a sample's genome with adequate coverage,
// produced by a coverage import.
type CoveredRegion struct {
	ID         int64  `json:"id"`
	CoverageID int64  `json:"coverage_id"`
	Chromosome string `json:"chromosome"`
	Begin      int64  `json:"begin"`
	End        int64  `json:"end"`
	Bin        int    `json:"bin"`
}

// Variant identifies a genomic variant independent of any one observation.
// It is addressed by the composite string key "chromosome:position:ref>obs".
type Variant struct {
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Reference  string `json:"reference"`
	Observed   string `json:"observed"`
}

// Key renders the composite string key used in variant URLs.
func (v Variant) Key() string {
	return fmt.Sprintf("%s:%d%s>%s", v.Chromosome, v.Position, v.Reference, v.Observed)
}

// ParseVariantKey parses a composite variant key produced by Variant.Key.
func ParseVariantKey(key string) (Variant, error) {
	chrom, rest, ok := strings.Cut(key, ":")
	if !ok || chrom == "" {
		return Variant{}, fmt.Errorf("malformed variant key %q", key)
	}
	refobs, observed, ok := strings.Cut(rest, ">")
	if !ok {
		return Variant{}, fmt.Errorf("malformed variant key %q", key)
	}
	i := 0
	for i < len(refobs) && refobs[i] >= '0' && refobs[i] <= '9' {
		i++
	}
	if i == 0 {
		return Variant{}, fmt.Errorf("malformed variant key %q", key)
	}
	position, err := strconv.ParseInt(refobs[:i], 10, 64)
	if err != nil {
		return Variant{}, fmt.Errorf("malformed variant key %q", key)
	}
	return Variant{
		Chromosome: chrom,
		Position:   position,
		Reference:  refobs[i:],
		Observed:   observed,
	}, nil
}
