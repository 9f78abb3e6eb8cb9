package jobs

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/genomics"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/storage"
)

// Annotator executes write_annotation jobs: it reads the source data
// source's variant calls, computes observed frequencies per requested
// scope, and writes the annotated table to the annotation's output data
// source.
type Annotator struct {
	annotations  repositories.AnnotationRepository
	dataSources  repositories.DataSourceRepository
	observations repositories.ObservationRepository
	blobs        storage.Blobs
	logger       *zap.Logger
}

// NewAnnotator creates the annotation job executor.
func NewAnnotator(
	annotations repositories.AnnotationRepository,
	dataSources repositories.DataSourceRepository,
	observations repositories.ObservationRepository,
	blobs storage.Blobs,
	logger *zap.Logger,
) *Annotator {
	return &Annotator{
		annotations:  annotations,
		dataSources:  dataSources,
		observations: observations,
		blobs:        blobs,
		logger:       logger.Named("annotator"),
	}
}

// frequencyScope is one column group of the annotated output: a label plus
// the sample scope (zero = all active samples with a coverage profile).
type frequencyScope struct {
	label    string
	sampleID int64
}

// WriteAnnotation annotates every variant of the source data source with
// its observed frequency per scope and stores the result as the
// annotation's output data source.
func (a *Annotator) WriteAnnotation(ctx context.Context, handle uuid.UUID, payload Payload, progress func(int)) error {
	id, ok := payloadID(payload, "annotation")
	if !ok {
		return &Error{Code: CodeInvalidPayload, Message: "payload carries no annotation id"}
	}
	annotation, err := waitVisible(ctx, func(ctx context.Context) (*models.Annotation, error) {
		return a.annotations.GetByID(ctx, id)
	})
	if err != nil {
		return err
	}
	defer a.settle(ctx, id, handle)

	scopes := annotationScopes(annotation)

	source, err := a.dataSources.GetByID(ctx, annotation.DataSourceID)
	if err != nil {
		return err
	}
	annotated, err := a.dataSources.GetByID(ctx, annotation.AnnotatedDataSourceID)
	if err != nil {
		return err
	}

	scan, closeData, err := openBlobLines(a.blobs, source, progress)
	if err != nil {
		return err
	}
	defer closeData()

	var out bytes.Buffer
	writeAnnotationHeader(&out, scopes)

	for {
		line, ok := scan.next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if scan.line%100 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := a.annotateLine(ctx, &out, line, scan.line, scopes); err != nil {
			return err
		}
	}
	if err := scan.err(); err != nil {
		return err
	}

	// A restarted annotation rewrites the previous run's output.
	if err := a.blobs.Remove(annotated.Filename); err != nil {
		return err
	}
	if err := a.blobs.Create(annotated.Filename, &out); err != nil {
		return fmt.Errorf("failed to store annotated data: %w", err)
	}

	a.logger.Info("annotation written",
		zap.Int64("annotation", id),
		zap.String("filename", annotated.Filename))
	return nil
}

func (a *Annotator) annotateLine(ctx context.Context, out *bytes.Buffer, line string, lineNo int, scopes []frequencyScope) error {
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		return vcfError(lineNo, "expected at least 5 columns")
	}
	position, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return vcfError(lineNo, "malformed position %q", fields[1])
	}

	for _, alt := range strings.Split(fields[4], ",") {
		if alt == "." || strings.HasPrefix(alt, "<") {
			continue
		}
		variant, err := genomics.NormalizeVariant(fields[0], position, fields[3], alt)
		if err != nil {
			return vcfError(lineNo, "%s", err.Error())
		}

		fmt.Fprintf(out, "%s\t%d\t%s\t%s",
			variant.Chromosome, variant.Position, variant.Reference, variant.Observed)
		for _, scope := range scopes {
			freq, err := genomics.CalculateFrequency(ctx, a.observations, variant, scope.sampleID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\t%d\t%g\t%g", freq.Coverage, freq.Heterozygous, freq.Homozygous)
		}
		out.WriteByte('\n')
	}
	return nil
}

// annotationScopes assembles the output column groups: the global scope
// when requested, then the included samples persisted on the annotation.
// Reading them from the record keeps restarts faithful to the original
// request.
func annotationScopes(annotation *models.Annotation) []frequencyScope {
	var scopes []frequencyScope
	if annotation.GlobalFrequencies {
		scopes = append(scopes, frequencyScope{label: "GLOBAL"})
	}
	labels := annotation.IncludeLabels
	samples := annotation.IncludeSampleIDs
	for i := 0; i < len(labels) && i < len(samples); i++ {
		scopes = append(scopes, frequencyScope{label: labels[i], sampleID: samples[i]})
	}
	return scopes
}

func writeAnnotationHeader(out *bytes.Buffer, scopes []frequencyScope) {
	out.WriteString("#chromosome\tposition\treference\tobserved")
	for _, scope := range scopes {
		fmt.Fprintf(out, "\t%s_coverage\t%s_frequency_het\t%s_frequency_hom",
			scope.label, scope.label, scope.label)
	}
	out.WriteByte('\n')
}

func (a *Annotator) settle(ctx context.Context, id int64, handle uuid.UUID) {
	if err := a.annotations.MarkTaskDone(context.WithoutCancel(ctx), id, handle); err != nil {
		a.logger.Error("Failed to mark task done",
			zap.Int64("id", id),
			zap.String("handle", handle.String()),
			zap.Error(err))
	}
}
