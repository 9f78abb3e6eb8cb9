package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/vardalab/varda-engine/pkg/database"
	"github.com/vardalab/varda-engine/pkg/models"
)

// ObservationRepository stores the observations and covered regions behind
// the variant query surface. It also implements genomics.FrequencySource.
type ObservationRepository interface {
	// BulkInsertObservations loads a batch of observations (one import).
	BulkInsertObservations(ctx context.Context, observations []*models.Observation) error

	// BulkInsertRegions loads a batch of covered regions (one import).
	BulkInsertRegions(ctx context.Context, regions []*models.CoveredRegion) error

	// DeleteByVariation clears a variation's observations before a
	// restarted import rewrites them.
	DeleteByVariation(ctx context.Context, variationID int64) error

	// DeleteByCoverage clears a coverage's regions before a restarted
	// import rewrites them.
	DeleteByCoverage(ctx context.Context, coverageID int64) error

	// QueryVariants returns the distinct variants observed in the region,
	// scoped to one sample (sampleID non-zero) or to all active samples
	// with a coverage profile. bins is the overlapping-bin set for the
	// region. Returns the total distinct count plus one page.
	QueryVariants(ctx context.Context, chromosome string, begin, end int64, bins []int, sampleID int64, order []Order, offset, limit int64) (int64, []models.Variant, error)

	// VariantObserved reports whether the variant has at least one
	// observation within the given scope.
	VariantObserved(ctx context.Context, variant models.Variant, sampleID int64) (bool, error)

	// CoverageAt counts sample chromosome copies covering the position.
	CoverageAt(ctx context.Context, chromosome string, position int64, sampleID int64) (int, error)

	// ObservationCounts counts supporting observations split by zygosity.
	ObservationCounts(ctx context.Context, variant models.Variant, sampleID int64) (het, hom int, err error)
}

type observationRepository struct {
	db *database.DB
}

// NewObservationRepository creates a new observation repository.
func NewObservationRepository(db *database.DB) ObservationRepository {
	return &observationRepository{db: db}
}

func (r *observationRepository) BulkInsertObservations(ctx context.Context, observations []*models.Observation) error {
	rows := make([][]any, len(observations))
	for i, o := range observations {
		rows[i] = []any{o.VariationID, o.Chromosome, o.Position, o.Reference,
			o.Observed, o.Zygosity, o.Support, o.Bin}
	}
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"observations"},
		[]string{"variation_id", "chromosome", "position", "reference", "observed", "zygosity", "support", "bin"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to bulk insert observations: %w", err)
	}
	return nil
}

func (r *observationRepository) BulkInsertRegions(ctx context.Context, regions []*models.CoveredRegion) error {
	rows := make([][]any, len(regions))
	for i, cr := range regions {
		rows[i] = []any{cr.CoverageID, cr.Chromosome, cr.Begin, cr.End, cr.Bin}
	}
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"covered_regions"},
		[]string{"coverage_id", "chromosome", "begin_position", "end_position", "bin"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to bulk insert covered regions: %w", err)
	}
	return nil
}

func (r *observationRepository) DeleteByVariation(ctx context.Context, variationID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM observations WHERE variation_id = $1`, variationID)
	if err != nil {
		return fmt.Errorf("failed to delete observations: %w", err)
	}
	return nil
}

func (r *observationRepository) DeleteByCoverage(ctx context.Context, coverageID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM covered_regions WHERE coverage_id = $1`, coverageID)
	if err != nil {
		return fmt.Errorf("failed to delete covered regions: %w", err)
	}
	return nil
}

// variantOrderColumns are the orderable columns of the variant query.
var variantOrderColumns = map[string]string{
	"chromosome": "o.chromosome",
	"position":   "o.position",
	"reference":  "o.reference",
	"observed":   "o.observed",
}

// scopeJoin builds the join and scope condition for a variant query: either
// one explicit sample, or all active samples with a coverage profile.
func scopeJoin(sampleID int64, args *[]any) string {
	if sampleID != 0 {
		*args = append(*args, sampleID)
		return fmt.Sprintf(
			` JOIN variations v ON v.id = o.variation_id AND v.sample_id = $%d`, len(*args))
	}
	return ` JOIN variations v ON v.id = o.variation_id
		JOIN samples s ON s.id = v.sample_id AND s.active AND s.coverage_profile`
}

func (r *observationRepository) QueryVariants(ctx context.Context, chromosome string, begin, end int64, bins []int, sampleID int64, order []Order, offset, limit int64) (int64, []models.Variant, error) {
	var args []any
	join := scopeJoin(sampleID, &args)

	args = append(args, chromosome, begin, end)
	where := fmt.Sprintf(
		` WHERE o.chromosome = $%d AND o.position >= $%d AND o.position <= $%d`,
		len(args)-2, len(args)-1, len(args))

	binTerms := make([]string, len(bins))
	for i, bin := range bins {
		args = append(args, bin)
		binTerms[i] = fmt.Sprintf("$%d", len(args))
	}
	where += fmt.Sprintf(" AND o.bin IN (%s)", strings.Join(binTerms, ", "))

	base := `FROM observations o` + join + where

	var total int64
	countQuery := `SELECT COUNT(*) FROM (SELECT DISTINCT o.chromosome, o.position, o.reference, o.observed ` + base + `) AS distinct_variants`
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count variants: %w", err)
	}

	orderSQL, err := orderClause(order, variantOrderColumns)
	if err != nil {
		return 0, nil, err
	}

	args = append(args, limit, offset)
	pageQuery := fmt.Sprintf(
		`SELECT DISTINCT o.chromosome, o.position, o.reference, o.observed %s%s LIMIT $%d OFFSET $%d`,
		base, orderSQL, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, pageQuery, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []models.Variant
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.Chromosome, &v.Position, &v.Reference, &v.Observed); err != nil {
			return 0, nil, err
		}
		variants = append(variants, v)
	}
	return total, variants, rows.Err()
}

func (r *observationRepository) VariantObserved(ctx context.Context, variant models.Variant, sampleID int64) (bool, error) {
	var args []any
	join := scopeJoin(sampleID, &args)

	args = append(args, variant.Chromosome, variant.Position, variant.Reference, variant.Observed)
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM observations o%s WHERE o.chromosome = $%d AND o.position = $%d AND o.reference = $%d AND o.observed = $%d)`,
		join, len(args)-3, len(args)-2, len(args)-1, len(args))

	var observed bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&observed); err != nil {
		return false, fmt.Errorf("failed to check variant: %w", err)
	}
	return observed, nil
}

func (r *observationRepository) CoverageAt(ctx context.Context, chromosome string, position int64, sampleID int64) (int, error) {
	var (
		args  []any
		scope string
	)
	if sampleID != 0 {
		args = append(args, sampleID)
		scope = fmt.Sprintf(` AND c.sample_id = $%d`, len(args))
	} else {
		scope = ` AND s.active AND s.coverage_profile`
	}

	args = append(args, chromosome, position)
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(covering.pool_size), 0)
		FROM (
			SELECT DISTINCT s.id, s.pool_size
			FROM covered_regions cr
			JOIN coverages c ON c.id = cr.coverage_id
			JOIN samples s ON s.id = c.sample_id
			WHERE cr.chromosome = $%d
			  AND cr.begin_position <= $%d AND cr.end_position >= $%d%s
		) AS covering`,
		len(args)-1, len(args), len(args), scope)

	var coverage int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&coverage); err != nil {
		return 0, fmt.Errorf("failed to compute coverage: %w", err)
	}
	return coverage, nil
}

func (r *observationRepository) ObservationCounts(ctx context.Context, variant models.Variant, sampleID int64) (int, int, error) {
	var args []any
	join := scopeJoin(sampleID, &args)

	args = append(args, variant.Chromosome, variant.Position, variant.Reference, variant.Observed)
	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(o.support) FILTER (WHERE o.zygosity = 'heterozygous'), 0),
			COALESCE(SUM(o.support) FILTER (WHERE o.zygosity = 'homozygous'), 0)
		FROM observations o%s
		WHERE o.chromosome = $%d AND o.position = $%d AND o.reference = $%d AND o.observed = $%d`,
		join, len(args)-3, len(args)-2, len(args)-1, len(args))

	var het, hom int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&het, &hom); err != nil {
		return 0, 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return het, hom, nil
}
