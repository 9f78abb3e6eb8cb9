package jobs_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/testhelpers"
)

type fixtures struct {
	samples      *testhelpers.Samples
	dataSources  *testhelpers.DataSources
	variations   *testhelpers.Variations
	coverages    *testhelpers.Coverages
	annotations  *testhelpers.Annotations
	observations *testhelpers.Observations
	blobs        *testhelpers.Blobs

	importer  *jobs.Importer
	annotator *jobs.Annotator
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	f := &fixtures{
		samples:     testhelpers.NewSamples(),
		dataSources: testhelpers.NewDataSources(),
		blobs:       testhelpers.NewBlobs(),
	}
	f.variations = testhelpers.NewVariations(f.samples)
	f.coverages = testhelpers.NewCoverages(f.samples)
	f.annotations = testhelpers.NewAnnotations(f.dataSources)
	f.observations = testhelpers.NewObservations(f.variations, f.coverages, f.samples)
	f.importer = jobs.NewImporter(f.variations, f.coverages, f.dataSources, f.observations, f.blobs, zap.NewNop())
	f.annotator = jobs.NewAnnotator(f.annotations, f.dataSources, f.observations, f.blobs, zap.NewNop())
	return f
}

func (f *fixtures) addDataSource(t *testing.T, filetype, filename string, content []byte, gzipped bool) *models.DataSource {
	t.Helper()
	ds := &models.DataSource{UserID: 1, Name: filename, Filetype: filetype, Filename: filename, Gzipped: gzipped}
	require.NoError(t, f.dataSources.Create(context.Background(), ds))
	f.blobs.Put(filename, content)
	return ds
}

func (f *fixtures) addActiveSample(t *testing.T) *models.Sample {
	t.Helper()
	s := &models.Sample{UserID: 1, Name: "s", PoolSize: 1, Active: true, CoverageProfile: true}
	require.NoError(t, f.samples.Create(context.Background(), s))
	return s
}

func TestImportVariation_EndToEnd(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)
	ds := f.addDataSource(t, models.FiletypeVCF, "calls.vcf",
		[]byte("##fileformat=VCFv4.1\n1\t100\t.\tA\tT\n"), false)

	runner := jobs.NewInProcRunner(map[string]jobs.ExecFunc{
		jobs.KindImportVariation: f.importer.ImportVariation,
	}, 1, zap.NewNop())
	defer runner.Close()

	v := &models.Variation{UserID: 1, SampleID: sample.ID, DataSourceID: ds.ID}
	err := f.variations.CreateWithTask(context.Background(), v,
		func(ctx context.Context, id int64) (uuid.UUID, error) {
			return runner.Submit(ctx, jobs.KindImportVariation, jobs.Payload{"variation": id})
		})
	require.NoError(t, err)

	status, err := runner.Status(context.Background(), v.TaskUUID, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, jobs.StateSucceeded, status.State, "%+v", status.Err)

	observed, err := f.observations.VariantObserved(context.Background(),
		models.Variant{Chromosome: "1", Position: 100, Reference: "A", Observed: "T"}, sample.ID)
	require.NoError(t, err)
	assert.True(t, observed)

	stored, err := f.variations.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.True(t, stored.TaskDone)
}

func TestImportVariation_GzippedSource(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write([]byte("1\t100\t.\tA\tT\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	ds := f.addDataSource(t, models.FiletypeVCF, "calls.vcf.gz", compressed.Bytes(), true)

	v := &models.Variation{UserID: 1, SampleID: sample.ID, DataSourceID: ds.ID}
	handle := uuid.New()
	require.NoError(t, f.variations.CreateWithTask(context.Background(), v,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	err = f.importer.ImportVariation(context.Background(), handle,
		jobs.Payload{"variation": v.ID}, func(int) {})
	require.NoError(t, err)

	observed, err := f.observations.VariantObserved(context.Background(),
		models.Variant{Chromosome: "1", Position: 100, Reference: "A", Observed: "T"}, sample.ID)
	require.NoError(t, err)
	assert.True(t, observed)
}

func TestImportVariation_CorruptGzipFails(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)
	ds := f.addDataSource(t, models.FiletypeVCF, "bad.vcf.gz", []byte("not gzip"), true)

	v := &models.Variation{UserID: 1, SampleID: sample.ID, DataSourceID: ds.ID}
	handle := uuid.New()
	require.NoError(t, f.variations.CreateWithTask(context.Background(), v,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	err := f.importer.ImportVariation(context.Background(), handle,
		jobs.Payload{"variation": v.ID}, func(int) {})

	var jobErr *jobs.Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, jobs.CodeInvalidDataSource, jobErr.Code)

	// Failure still settles the persisted done flag.
	stored, getErr := f.variations.GetByID(context.Background(), v.ID)
	require.NoError(t, getErr)
	assert.True(t, stored.TaskDone)
}

func TestImportVariation_RerunReplacesObservations(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)
	ds := f.addDataSource(t, models.FiletypeVCF, "calls.vcf", []byte("1\t100\t.\tA\tT\n"), false)

	v := &models.Variation{UserID: 1, SampleID: sample.ID, DataSourceID: ds.ID}
	handle := uuid.New()
	require.NoError(t, f.variations.CreateWithTask(context.Background(), v,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	for i := 0; i < 2; i++ {
		err := f.importer.ImportVariation(context.Background(), handle,
			jobs.Payload{"variation": v.ID}, func(int) {})
		require.NoError(t, err)
	}

	het, hom, err := f.observations.ObservationCounts(context.Background(),
		models.Variant{Chromosome: "1", Position: 100, Reference: "A", Observed: "T"}, sample.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, het, "rerun must not double-count")
	assert.Equal(t, 0, hom)
}

func TestImportVariation_MissingPayloadID(t *testing.T) {
	f := newFixtures(t)

	err := f.importer.ImportVariation(context.Background(), uuid.New(), jobs.Payload{}, func(int) {})

	var jobErr *jobs.Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, jobs.CodeInvalidPayload, jobErr.Code)
}

func TestImportCoverage_EndToEnd(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)
	ds := f.addDataSource(t, models.FiletypeBED, "regions.bed", []byte("1\t49\t150\n"), false)

	c := &models.Coverage{UserID: 1, SampleID: sample.ID, DataSourceID: ds.ID}
	handle := uuid.New()
	require.NoError(t, f.coverages.CreateWithTask(context.Background(), c,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	err := f.importer.ImportCoverage(context.Background(), handle,
		jobs.Payload{"coverage": c.ID}, func(int) {})
	require.NoError(t, err)

	coverage, err := f.observations.CoverageAt(context.Background(), "1", 100, sample.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, coverage)

	coverage, err = f.observations.CoverageAt(context.Background(), "1", 200, sample.ID)
	require.NoError(t, err)
	assert.Zero(t, coverage, "position outside the region is uncovered")
}

func TestWriteAnnotation_EndToEnd(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)

	// Observed data: one het call at 1:100 A>T, covered by 1:50-150.
	source := f.addDataSource(t, models.FiletypeVCF, "source.vcf", []byte("1\t100\t.\tA\tT\n"), false)
	bed := f.addDataSource(t, models.FiletypeBED, "regions.bed", []byte("1\t49\t150\n"), false)

	v := &models.Variation{UserID: 1, SampleID: sample.ID, DataSourceID: source.ID}
	require.NoError(t, f.variations.CreateWithTask(context.Background(), v,
		func(context.Context, int64) (uuid.UUID, error) { return uuid.New(), nil }))
	require.NoError(t, f.importer.ImportVariation(context.Background(), v.TaskUUID,
		jobs.Payload{"variation": v.ID}, func(int) {}))

	c := &models.Coverage{UserID: 1, SampleID: sample.ID, DataSourceID: bed.ID}
	require.NoError(t, f.coverages.CreateWithTask(context.Background(), c,
		func(context.Context, int64) (uuid.UUID, error) { return uuid.New(), nil }))
	require.NoError(t, f.importer.ImportCoverage(context.Background(), c.TaskUUID,
		jobs.Payload{"coverage": c.ID}, func(int) {}))

	annotated := &models.DataSource{UserID: 1, Name: "source.vcf (annotated)",
		Filetype: models.FiletypeVCF, Filename: "annotated.tsv"}
	a := &models.Annotation{UserID: 1, DataSourceID: source.ID, GlobalFrequencies: true,
		IncludeLabels: []string{"MYSAMPLE"}, IncludeSampleIDs: []int64{sample.ID}}
	handle := uuid.New()
	require.NoError(t, f.annotations.CreateWithTask(context.Background(), annotated, a,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	err := f.annotator.WriteAnnotation(context.Background(), handle,
		jobs.Payload{"annotation": a.ID}, func(int) {})
	require.NoError(t, err)

	output := string(f.blobs.Get("annotated.tsv"))
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	require.Len(t, lines, 2, output)
	assert.Equal(t,
		"#chromosome\tposition\treference\tobserved"+
			"\tGLOBAL_coverage\tGLOBAL_frequency_het\tGLOBAL_frequency_hom"+
			"\tMYSAMPLE_coverage\tMYSAMPLE_frequency_het\tMYSAMPLE_frequency_hom",
		lines[0])
	assert.Equal(t, "1\t100\tA\tT\t1\t1\t0\t1\t1\t0", lines[1])

	stored, err := f.annotations.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.TaskDone)
}

func TestWriteAnnotation_RestartRewritesOutput(t *testing.T) {
	f := newFixtures(t)
	source := f.addDataSource(t, models.FiletypeVCF, "source.vcf", []byte("1\t100\t.\tA\tT\n"), false)

	annotated := &models.DataSource{UserID: 1, Name: "out", Filetype: models.FiletypeVCF, Filename: "out.tsv"}
	a := &models.Annotation{UserID: 1, DataSourceID: source.ID, GlobalFrequencies: true}
	handle := uuid.New()
	require.NoError(t, f.annotations.CreateWithTask(context.Background(), annotated, a,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	for i := 0; i < 2; i++ {
		err := f.annotator.WriteAnnotation(context.Background(), handle,
			jobs.Payload{"annotation": a.ID}, func(int) {})
		require.NoError(t, err)
	}

	output := string(f.blobs.Get("out.tsv"))
	assert.Equal(t, 2, strings.Count(output, "\n"), "a rerun must not append")
}

func TestWriteAnnotation_RestartKeepsSampleScopes(t *testing.T) {
	f := newFixtures(t)
	sample := f.addActiveSample(t)
	source := f.addDataSource(t, models.FiletypeVCF, "source.vcf", []byte("1\t100\t.\tA\tT\n"), false)

	annotated := &models.DataSource{UserID: 1, Name: "out", Filetype: models.FiletypeVCF, Filename: "out.tsv"}
	a := &models.Annotation{UserID: 1, DataSourceID: source.ID,
		IncludeLabels: []string{"MYSAMPLE"}, IncludeSampleIDs: []int64{sample.ID}}
	handle := uuid.New()
	require.NoError(t, f.annotations.CreateWithTask(context.Background(), annotated, a,
		func(context.Context, int64) (uuid.UUID, error) { return handle, nil }))

	// A restart submits only the annotation id; the sample scopes must
	// come back from the record, not the original request.
	require.NoError(t, f.annotator.WriteAnnotation(context.Background(), handle,
		jobs.Payload{"annotation": a.ID}, func(int) {}))

	output := string(f.blobs.Get("out.tsv"))
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t,
		"#chromosome\tposition\treference\tobserved"+
			"\tMYSAMPLE_coverage\tMYSAMPLE_frequency_het\tMYSAMPLE_frequency_hom",
		lines[0])
}
