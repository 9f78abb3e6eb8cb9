package models

import "time"

// Variation is the import of a data source's variant calls into a sample.
// Creating one triggers an import_variation job.
type Variation struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"user_id"`
	SampleID     int64 `json:"sample_id"`
	DataSourceID int64 `json:"data_source_id"`
	TaskMeta
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Coverage is the import of a data source's covered regions into a sample.
// Creating one triggers an import_coverage job.
type Coverage struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"user_id"`
	SampleID     int64 `json:"sample_id"`
	DataSourceID int64 `json:"data_source_id"`
	TaskMeta
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation is a frequency annotation of one data source, written to a
// newly created annotated data source by a write_annotation job. The
// included sample scopes are persisted so a restarted job reproduces the
// same output columns.
type Annotation struct {
	ID                    int64    `json:"id"`
	UserID                int64    `json:"user_id"`
	DataSourceID          int64    `json:"data_source_id"`
	AnnotatedDataSourceID int64    `json:"annotated_data_source_id"`
	GlobalFrequencies     bool     `json:"global_frequencies"`
	IncludeLabels         []string `json:"include_labels"`
	IncludeSampleIDs      []int64  `json:"include_sample_ids"`
	TaskMeta
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
