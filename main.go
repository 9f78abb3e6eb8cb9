package main

import (
	"context"
	"database/sql"
	"embed"
	"log"
	"net"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/config"
	"github.com/vardalab/varda-engine/pkg/database"
	"github.com/vardalab/varda-engine/pkg/handlers"
	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/logging"
	"github.com/vardalab/varda-engine/pkg/middleware"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

//go:embed migrations/*.sql
var migrationFiles embed.FS

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	// Migrations run over database/sql; the pgx pool serves requests.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		log.Fatalf("Failed to open database for migrations: %v", err)
	}
	if err := database.Migrate(migrationDB, migrationFiles, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	migrationDB.Close()

	logger.Info("Connecting to database", zap.String("url", logging.RedactURL(cfg.Database.URL())))
	db, err := database.Connect(ctx, cfg.Database.URL(), cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	blobs, err := storage.NewLocalBlobs(cfg.FilesDir)
	if err != nil {
		log.Fatalf("Failed to open files directory: %v", err)
	}

	users := repositories.NewUserRepository(db)
	samples := repositories.NewSampleRepository(db)
	dataSources := repositories.NewDataSourceRepository(db)
	variations := repositories.NewVariationRepository(db)
	coverages := repositories.NewCoverageRepository(db)
	annotations := repositories.NewAnnotationRepository(db)
	observations := repositories.NewObservationRepository(db)

	importer := jobs.NewImporter(variations, coverages, dataSources, observations, blobs, logger)
	annotator := jobs.NewAnnotator(annotations, dataSources, observations, blobs, logger)
	runner := jobs.NewInProcRunner(map[string]jobs.ExecFunc{
		jobs.KindImportVariation: importer.ImportVariation,
		jobs.KindImportCoverage:  importer.ImportCoverage,
		jobs.KindWriteAnnotation: annotator.WriteAnnotation,
	}, cfg.Jobs.Workers, logger)
	defer runner.Close()

	authService := auth.NewService(users, cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)

	mux := http.NewServeMux()
	err = handlers.RegisterRoutes(mux, handlers.Dependencies{
		Users:           users,
		Samples:         samples,
		DataSources:     dataSources,
		Variations:      variations,
		Coverages:       coverages,
		Annotations:     annotations,
		Observations:    observations,
		Blobs:           blobs,
		Runner:          runner,
		Auth:            authService,
		TaskPollTimeout: cfg.Jobs.StatusPollTimeout,
		Version:         cfg.Version,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	handler := auth.NewMiddleware(authService, logger).ResolveUser(mux)
	handler = middleware.RequestLogger(logger)(handler)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	log.Printf("Starting varda-engine on %s (version: %s)", addr, cfg.Version)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
