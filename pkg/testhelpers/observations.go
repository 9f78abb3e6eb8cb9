package testhelpers

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
)

// Observations is an in-memory repositories.ObservationRepository. Scoping
// (one sample versus all active coverage-profile samples) is resolved
// through the variation, coverage and sample fakes.
type Observations struct {
	mu           sync.Mutex
	observations []models.Observation
	regions      []models.CoveredRegion
	variations   *Variations
	coverages    *Coverages
	samples      *Samples
}

// NewObservations creates an empty in-memory observation repository.
func NewObservations(variations *Variations, coverages *Coverages, samples *Samples) *Observations {
	return &Observations{variations: variations, coverages: coverages, samples: samples}
}

func (r *Observations) BulkInsertObservations(ctx context.Context, observations []*models.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range observations {
		r.observations = append(r.observations, *o)
	}
	return nil
}

func (r *Observations) BulkInsertRegions(ctx context.Context, regions []*models.CoveredRegion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cr := range regions {
		r.regions = append(r.regions, *cr)
	}
	return nil
}

func (r *Observations) DeleteByVariation(ctx context.Context, variationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = slices.DeleteFunc(r.observations, func(o models.Observation) bool {
		return o.VariationID == variationID
	})
	return nil
}

func (r *Observations) DeleteByCoverage(ctx context.Context, coverageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = slices.DeleteFunc(r.regions, func(cr models.CoveredRegion) bool {
		return cr.CoverageID == coverageID
	})
	return nil
}

// observationInScope mirrors the SQL scope join: either one explicit sample,
// or any active sample with a coverage profile.
func (r *Observations) observationInScope(ctx context.Context, o models.Observation, sampleID int64) bool {
	variation, err := r.variations.GetByID(ctx, o.VariationID)
	if err != nil {
		return false
	}
	if sampleID != 0 {
		return variation.SampleID == sampleID
	}
	sample, err := r.samples.GetByID(ctx, variation.SampleID)
	return err == nil && sample.Active && sample.CoverageProfile
}

func (r *Observations) QueryVariants(ctx context.Context, chromosome string, begin, end int64, bins []int, sampleID int64, order []repositories.Order, offset, limit int64) (int64, []models.Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]models.Variant)
	for _, o := range r.observations {
		if o.Chromosome != chromosome || o.Position < begin || o.Position > end {
			continue
		}
		if !slices.Contains(bins, o.Bin) {
			continue
		}
		if !r.observationInScope(ctx, o, sampleID) {
			continue
		}
		v := models.Variant{Chromosome: o.Chromosome, Position: o.Position, Reference: o.Reference, Observed: o.Observed}
		seen[v.Key()] = v
	}

	variants := make([]models.Variant, 0, len(seen))
	for _, v := range seen {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool {
		if variants[i].Position != variants[j].Position {
			return variants[i].Position < variants[j].Position
		}
		return variants[i].Key() < variants[j].Key()
	})

	total := int64(len(variants))
	pageBegin := min(offset, total)
	pageEnd := total
	if limit > 0 && pageBegin+limit < pageEnd {
		pageEnd = pageBegin + limit
	}
	return total, variants[pageBegin:pageEnd], nil
}

func (r *Observations) VariantObserved(ctx context.Context, variant models.Variant, sampleID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.observations {
		if o.Chromosome == variant.Chromosome && o.Position == variant.Position &&
			o.Reference == variant.Reference && o.Observed == variant.Observed &&
			r.observationInScope(ctx, o, sampleID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Observations) CoverageAt(ctx context.Context, chromosome string, position int64, sampleID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	covering := make(map[int64]int)
	for _, cr := range r.regions {
		if cr.Chromosome != chromosome || cr.Begin > position || cr.End < position {
			continue
		}
		coverage, err := r.coverages.GetByID(ctx, cr.CoverageID)
		if err != nil {
			continue
		}
		sample, err := r.samples.GetByID(ctx, coverage.SampleID)
		if err != nil {
			continue
		}
		if sampleID != 0 {
			if coverage.SampleID != sampleID {
				continue
			}
		} else if !sample.Active || !sample.CoverageProfile {
			continue
		}
		covering[sample.ID] = sample.PoolSize
	}

	var total int
	for _, poolSize := range covering {
		total += poolSize
	}
	return total, nil
}

func (r *Observations) ObservationCounts(ctx context.Context, variant models.Variant, sampleID int64) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var het, hom int
	for _, o := range r.observations {
		if o.Chromosome != variant.Chromosome || o.Position != variant.Position ||
			o.Reference != variant.Reference || o.Observed != variant.Observed {
			continue
		}
		if !r.observationInScope(ctx, o, sampleID) {
			continue
		}
		switch o.Zygosity {
		case models.ZygosityHeterozygous:
			het += o.Support
		case models.ZygosityHomozygous:
			hom += o.Support
		}
	}
	return het, hom, nil
}
