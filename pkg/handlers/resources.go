// Package handlers declares the HTTP surface: one resource descriptor per
// entity wired into the shared dispatcher, plus the token, data-download
// and health endpoints.
package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/storage"
)

// Dependencies bundles everything the resource declarations close over.
type Dependencies struct {
	Users        repositories.UserRepository
	Samples      repositories.SampleRepository
	DataSources  repositories.DataSourceRepository
	Variations   repositories.VariationRepository
	Coverages    repositories.CoverageRepository
	Annotations  repositories.AnnotationRepository
	Observations repositories.ObservationRepository

	Blobs  storage.Blobs
	Runner jobs.Runner
	Auth   auth.Service

	// TaskPollTimeout bounds how long serialization waits for a job.
	TaskPollTimeout time.Duration

	Version string
	Logger  *zap.Logger
}

// RegisterRoutes builds every resource descriptor and installs all routes
// on the mux. Descriptors are built leaf-first so relations can point at
// already-built targets.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) error {
	resolver := newResolver(deps)
	dispatcher := resource.NewDispatcher(resolver, deps.Logger)

	users, err := newUserDescriptor(deps)
	if err != nil {
		return err
	}
	samples, err := newSampleDescriptor(deps, users)
	if err != nil {
		return err
	}
	dataSources, err := newDataSourceDescriptor(deps, users)
	if err != nil {
		return err
	}
	variations, err := newVariationDescriptor(deps, samples, dataSources)
	if err != nil {
		return err
	}
	coverages, err := newCoverageDescriptor(deps, samples, dataSources)
	if err != nil {
		return err
	}
	annotations, err := newAnnotationDescriptor(deps, dataSources)
	if err != nil {
		return err
	}
	variants, err := newVariantDescriptor(deps)
	if err != nil {
		return err
	}

	for _, desc := range []*resource.Descriptor{
		users, samples, dataSources, variations, coverages, annotations, variants,
	} {
		dispatcher.Register(mux, desc)
	}

	authMiddleware := auth.NewMiddleware(deps.Auth, deps.Logger)
	NewDataHandler(deps.DataSources, deps.Blobs, deps.Logger).
		RegisterRoutes(mux, authMiddleware)
	NewTokenHandler(deps.Auth, deps.Logger).RegisterRoutes(mux)
	NewHealthHandler(deps.Version).RegisterRoutes(mux)
	return nil
}

// entities widens a typed repository page for the dispatcher.
func entities[T models.Entity](page []T) []models.Entity {
	out := make([]models.Entity, len(page))
	for i, e := range page {
		out[i] = e
	}
	return out
}
