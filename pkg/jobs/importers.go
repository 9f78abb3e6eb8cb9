package jobs

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/genomics"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/storage"
)

// CodeInvalidDataSource marks an import that failed because the data
// source's contents could not be parsed.
const CodeInvalidDataSource = "invalid_data_source"

// CodeInvalidPayload marks a job submitted with a malformed payload.
const CodeInvalidPayload = "invalid_payload"

// Importer executes the variation and coverage import jobs: it reads the
// entity's data source from the blob store, parses it, and rewrites the
// entity's observations or covered regions.
type Importer struct {
	variations   repositories.VariationRepository
	coverages    repositories.CoverageRepository
	dataSources  repositories.DataSourceRepository
	observations repositories.ObservationRepository
	blobs        storage.Blobs
	logger       *zap.Logger
}

// NewImporter creates the import job executor.
func NewImporter(
	variations repositories.VariationRepository,
	coverages repositories.CoverageRepository,
	dataSources repositories.DataSourceRepository,
	observations repositories.ObservationRepository,
	blobs storage.Blobs,
	logger *zap.Logger,
) *Importer {
	return &Importer{
		variations:   variations,
		coverages:    coverages,
		dataSources:  dataSources,
		observations: observations,
		blobs:        blobs,
		logger:       logger.Named("importer"),
	}
}

// ImportVariation parses the variation's data source as VCF and replaces
// the variation's observations with the parsed calls.
func (i *Importer) ImportVariation(ctx context.Context, handle uuid.UUID, payload Payload, progress func(int)) error {
	id, ok := payloadID(payload, "variation")
	if !ok {
		return &Error{Code: CodeInvalidPayload, Message: "payload carries no variation id"}
	}
	variation, err := waitVisible(ctx, func(ctx context.Context) (*models.Variation, error) {
		return i.variations.GetByID(ctx, id)
	})
	if err != nil {
		return err
	}
	defer i.settle(ctx, i.variations, id, handle)

	scan, closeData, err := i.openData(ctx, variation.DataSourceID, progress)
	if err != nil {
		return err
	}
	defer closeData()

	observations, err := parseVCF(ctx, scan, variation.ID)
	if err != nil {
		return err
	}

	// A restarted import rewrites the previous run's rows.
	if err := i.observations.DeleteByVariation(ctx, id); err != nil {
		return err
	}
	if err := i.observations.BulkInsertObservations(ctx, observations); err != nil {
		return err
	}

	i.logger.Info("variation imported",
		zap.Int64("variation", id),
		zap.Int("observations", len(observations)))
	return nil
}

// ImportCoverage parses the coverage's data source as BED and replaces the
// coverage's covered regions.
func (i *Importer) ImportCoverage(ctx context.Context, handle uuid.UUID, payload Payload, progress func(int)) error {
	id, ok := payloadID(payload, "coverage")
	if !ok {
		return &Error{Code: CodeInvalidPayload, Message: "payload carries no coverage id"}
	}
	coverage, err := waitVisible(ctx, func(ctx context.Context) (*models.Coverage, error) {
		return i.coverages.GetByID(ctx, id)
	})
	if err != nil {
		return err
	}
	defer i.settle(ctx, i.coverages, id, handle)

	scan, closeData, err := i.openData(ctx, coverage.DataSourceID, progress)
	if err != nil {
		return err
	}
	defer closeData()

	regions, err := parseBED(ctx, scan, coverage.ID)
	if err != nil {
		return err
	}

	if err := i.observations.DeleteByCoverage(ctx, id); err != nil {
		return err
	}
	if err := i.observations.BulkInsertRegions(ctx, regions); err != nil {
		return err
	}

	i.logger.Info("coverage imported",
		zap.Int64("coverage", id),
		zap.Int("regions", len(regions)))
	return nil
}

// settle records job termination on the entity. It runs even when the job
// was cancelled, so the completion context must survive the job context;
// the handle guard in MarkTaskDone keeps a replaced job from touching its
// successor's state.
func (i *Importer) settle(ctx context.Context, repo repositories.TaskedRepository, id int64, handle uuid.UUID) {
	if err := repo.MarkTaskDone(context.WithoutCancel(ctx), id, handle); err != nil {
		i.logger.Error("Failed to mark task done",
			zap.Int64("id", id),
			zap.String("handle", handle.String()),
			zap.Error(err))
	}
}

// openData opens a data source's blob for line scanning, decompressing when
// needed. The returned scanner reports read progress through progress as a
// percentage of the stored (compressed) size.
func (i *Importer) openData(ctx context.Context, dataSourceID int64, progress func(int)) (*lineScanner, func(), error) {
	ds, err := i.dataSources.GetByID(ctx, dataSourceID)
	if err != nil {
		return nil, nil, err
	}
	return openBlobLines(i.blobs, ds, progress)
}

func openBlobLines(blobs storage.Blobs, ds *models.DataSource, progress func(int)) (*lineScanner, func(), error) {
	size, err := blobs.Size(ds.Filename)
	if err != nil {
		return nil, nil, err
	}
	raw, err := blobs.Open(ds.Filename)
	if err != nil {
		return nil, nil, err
	}

	counting := &countingReader{r: raw, size: size, progress: progress}
	var reader io.Reader = counting
	if ds.Gzipped {
		gz, err := gzip.NewReader(counting)
		if err != nil {
			raw.Close()
			return nil, nil, &Error{Code: CodeInvalidDataSource, Message: "data is not valid gzip"}
		}
		reader = gz
	}
	return &lineScanner{scanner: bufio.NewScanner(reader)}, func() { raw.Close() }, nil
}

// countingReader tracks consumed bytes against the blob size so progress
// reflects position in the stored file even under decompression.
type countingReader struct {
	r        io.Reader
	read     int64
	size     int64
	progress func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.progress != nil && c.size > 0 {
		c.progress(int(c.read * 100 / c.size))
	}
	return n, err
}

// lineScanner yields non-empty data lines, numbered for diagnostics.
type lineScanner struct {
	scanner *bufio.Scanner
	line    int
}

func (s *lineScanner) next() (string, bool) {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimRight(s.scanner.Text(), "\r")
		if text == "" {
			continue
		}
		return text, true
	}
	return "", false
}

func (s *lineScanner) err() error { return s.scanner.Err() }

// parseVCF reads variant call lines and produces one observation per
// alternate allele and zygosity. Header lines are skipped; symbolic and
// missing alternates are ignored.
func parseVCF(ctx context.Context, scan *lineScanner, variationID int64) ([]*models.Observation, error) {
	var observations []*models.Observation
	for {
		line, ok := scan.next()
		if !ok {
			break
		}
		if scan.line%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		parsed, err := parseVCFLine(line, scan.line, variationID)
		if err != nil {
			return nil, err
		}
		observations = append(observations, parsed...)
	}
	if err := scan.err(); err != nil {
		return nil, err
	}
	return observations, nil
}

func parseVCFLine(line string, lineNo int, variationID int64) ([]*models.Observation, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		return nil, vcfError(lineNo, "expected at least 5 columns")
	}

	position, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, vcfError(lineNo, "malformed position %q", fields[1])
	}
	reference := fields[3]

	var genotypes []string
	if len(fields) >= 10 {
		format := strings.Split(fields[8], ":")
		for gtIndex, key := range format {
			if key != "GT" {
				continue
			}
			for _, sample := range fields[9:] {
				values := strings.Split(sample, ":")
				if gtIndex < len(values) {
					genotypes = append(genotypes, values[gtIndex])
				}
			}
			break
		}
	}

	var observations []*models.Observation
	for altIndex, alt := range strings.Split(fields[4], ",") {
		if alt == "." || strings.HasPrefix(alt, "<") {
			continue
		}
		variant, err := genomics.NormalizeVariant(fields[0], position, reference, alt)
		if err != nil {
			return nil, vcfError(lineNo, "%s", err.Error())
		}

		het, hom := zygosityCounts(genotypes, altIndex+1)
		if len(genotypes) == 0 {
			het = 1
		}
		bin := genomics.Bin(variant.Position, variant.Position+int64(max(len(variant.Reference), 1))-1)
		if het > 0 {
			observations = append(observations, &models.Observation{
				VariationID: variationID,
				Chromosome:  variant.Chromosome,
				Position:    variant.Position,
				Reference:   variant.Reference,
				Observed:    variant.Observed,
				Zygosity:    models.ZygosityHeterozygous,
				Support:     het,
				Bin:         bin,
			})
		}
		if hom > 0 {
			observations = append(observations, &models.Observation{
				VariationID: variationID,
				Chromosome:  variant.Chromosome,
				Position:    variant.Position,
				Reference:   variant.Reference,
				Observed:    variant.Observed,
				Zygosity:    models.ZygosityHomozygous,
				Support:     hom,
				Bin:         bin,
			})
		}
	}
	return observations, nil
}

// zygosityCounts counts genotypes carrying the allele once (het) or on both
// chromosome copies (hom). allele is the 1-based alternate index.
func zygosityCounts(genotypes []string, allele int) (het, hom int) {
	target := strconv.Itoa(allele)
	for _, gt := range genotypes {
		copies := 0
		for _, call := range strings.FieldsFunc(gt, func(r rune) bool { return r == '/' || r == '|' }) {
			if call == target {
				copies++
			}
		}
		switch {
		case copies == 1:
			het++
		case copies >= 2:
			hom++
		}
	}
	return het, hom
}

// parseBED reads 0-based half-open region lines and produces 1-based
// inclusive covered regions.
func parseBED(ctx context.Context, scan *lineScanner, coverageID int64) ([]*models.CoveredRegion, error) {
	var regions []*models.CoveredRegion
	for {
		line, ok := scan.next()
		if !ok {
			break
		}
		if scan.line%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, bedError(scan.line, "expected at least 3 columns")
		}
		start, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, bedError(scan.line, "malformed start %q", fields[1])
		}
		stop, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, bedError(scan.line, "malformed end %q", fields[2])
		}

		chromosome, begin, end, err := genomics.NormalizeRegion(fields[0], start+1, stop)
		if err != nil {
			return nil, bedError(scan.line, "%s", err.Error())
		}
		regions = append(regions, &models.CoveredRegion{
			CoverageID: coverageID,
			Chromosome: chromosome,
			Begin:      begin,
			End:        end,
			Bin:        genomics.Bin(begin, end),
		})
	}
	if err := scan.err(); err != nil {
		return nil, err
	}
	return regions, nil
}

func vcfError(line int, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidDataSource,
		Message: fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)),
	}
}

func bedError(line int, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidDataSource,
		Message: fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)),
	}
}

// payloadID extracts an entity id from a payload, tolerating the numeric
// types a payload round-trip can produce.
func payloadID(p Payload, key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// waitVisible retries a load while it reports not-found. The entity row is
// committed only after job submission, so a fast-starting job can observe
// the store before its own entity is visible.
func waitVisible[T any](ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := load(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) || attempt >= 50 {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
