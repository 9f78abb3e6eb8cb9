package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
	"github.com/vardalab/varda-engine/pkg/storage"
)

func newDataSourceDescriptor(deps Dependencies, users *resource.Descriptor) (*resource.Descriptor, error) {
	dataSources := deps.DataSources
	blobs := deps.Blobs

	filetypes := make([]any, len(models.DataSourceFiletypes))
	for i, ft := range models.DataSourceFiletypes {
		filetypes[i] = ft
	}

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name:       "data_source",
		Collection: "data_sources",
		Fields: func(e models.Entity) map[string]any {
			ds := e.(*models.DataSource)
			return map[string]any{
				"name":     ds.Name,
				"filetype": ds.Filetype,
				"gzipped":  ds.Gzipped,
				"added":    ds.CreatedAt,
				"data":     map[string]any{"uri": "/data_sources/" + strconv.FormatInt(ds.ID, 10) + "/data"},
			}
		},
		Relations: []resource.Relation{
			userRelation(users, deps.Users, func(e models.Entity) int64 {
				return e.(*models.DataSource).UserID
			}),
		},
		Filterable: map[string]schema.Field{
			"user":     {Ref: "user"},
			"filetype": {Type: schema.String, Allowed: filetypes},
		},
		Orderable:    []string{"name", "filetype"},
		DefaultOrder: []repositories.Order{{Field: "id"}},
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.IsUser("user"),
				),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					q, err := desc.ListQuery(args)
					if err != nil {
						return 0, nil, err
					}
					total, page, err := dataSources.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("data_source"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["data_source"].(*models.DataSource), nil
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"name":       {Type: schema.String, Required: true, MaxLength: 200},
					"filetype":   {Type: schema.String, Required: true, Allowed: filetypes},
					"gzipped":    {Type: schema.Boolean},
					"local_path": {Type: schema.String, Required: true},
				},
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return addDataSource(ctx, dataSources, blobs, user, args)
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{
					"name": {Type: schema.String, MaxLength: 200},
				},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("data_source"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					ds := args["data_source"].(*models.DataSource)
					if args.Has("name") {
						ds.Name = args.Str("name")
					}
					if err := dataSources.Update(ctx, ds); err != nil {
						return nil, err
					}
					return ds, nil
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("data_source"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					ds := args["data_source"].(*models.DataSource)
					if err := dataSources.Delete(ctx, ds.ID); err != nil {
						return nil, err
					}
					// The record is the source of truth; a leftover blob
					// is only wasted space.
					_ = blobs.Remove(ds.Filename)
					return nil, nil
				},
			},
		},
	})
	return desc, err
}

// addDataSource copies a server-side file into the blob store and records
// the data source. Uploading happens out of band (shared filesystem);
// local_path points at the staged file.
func addDataSource(ctx context.Context, dataSources repositories.DataSourceRepository, blobs storage.Blobs, user *models.User, args schema.Args) (models.Entity, error) {
	f, err := os.Open(args.Str("local_path"))
	if err != nil {
		return nil, apperrors.NewValidation(apperrors.KindInvalidValue, "local_path",
			"file cannot be read")
	}
	defer f.Close()

	ds := &models.DataSource{
		UserID:   user.ID,
		Name:     args.Str("name"),
		Filetype: args.Str("filetype"),
		Filename: uuid.New().String(),
		Gzipped:  args.Bool("gzipped"),
	}
	if err := blobs.Create(ds.Filename, f); err != nil {
		return nil, fmt.Errorf("failed to store data: %w", err)
	}
	if err := dataSources.Create(ctx, ds); err != nil {
		_ = blobs.Remove(ds.Filename)
		return nil, err
	}
	return ds, nil
}

// DataHandler streams a data source's stored file.
type DataHandler struct {
	dataSources repositories.DataSourceRepository
	blobs       storage.Blobs
	logger      *zap.Logger
}

// NewDataHandler creates a new data download handler.
func NewDataHandler(dataSources repositories.DataSourceRepository, blobs storage.Blobs, logger *zap.Logger) *DataHandler {
	return &DataHandler{dataSources: dataSources, blobs: blobs, logger: logger}
}

// RegisterRoutes registers the download route on the given mux.
func (h *DataHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /data_sources/{key}/data", authMiddleware.RequireUser(h.Download))
}

// Download handles GET /data_sources/{key}/data
func (h *DataHandler) Download(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.GetUser(r.Context())

	id, err := strconv.ParseInt(r.PathValue("key"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such data source")
		return
	}
	ds, err := h.dataSources.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such data source")
			return
		}
		h.logger.Error("Failed to load data source", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if !user.IsAdmin() && ds.UserID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return
	}

	blob, err := h.blobs.Open(ds.Filename)
	if err != nil {
		h.logger.Error("Failed to open blob",
			zap.String("filename", ds.Filename),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, blob); err != nil {
		h.logger.Error("Failed to stream data", zap.Error(err))
	}
}
