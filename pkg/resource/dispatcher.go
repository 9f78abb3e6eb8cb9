package resource

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// Dispatcher registers descriptors on a mux and runs the fixed request
// pipeline for every view: authenticate, validate and coerce parameters,
// evaluate the view's policy, invoke the view, serialize. The order is the
// contract: policies see only an authenticated user and already-resolved
// arguments, and a dangling reference fails validation before any
// predicate runs.
type Dispatcher struct {
	resolver schema.Resolver
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher resolving entity references through
// resolver.
func NewDispatcher(resolver schema.Resolver, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{resolver: resolver, logger: logger}
}

// Register installs one route per declared view of the descriptor.
func (d *Dispatcher) Register(mux *http.ServeMux, desc *Descriptor) {
	routes := map[View]string{
		ViewList:   "GET /" + desc.Collection + "/{$}",
		ViewAdd:    "POST /" + desc.Collection + "/{$}",
		ViewGet:    "GET /" + desc.Collection + "/{key}",
		ViewEdit:   "PATCH /" + desc.Collection + "/{key}",
		ViewDelete: "DELETE /" + desc.Collection + "/{key}",
	}
	for view, def := range desc.Views {
		mux.HandleFunc(routes[view], d.handle(desc, view, def))
	}
}

func (d *Dispatcher) handle(desc *Descriptor, view View, def *ViewDef) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, ok := auth.GetUser(ctx)
		if !ok {
			d.writeError(w, desc, view, apperrors.ErrAuthRequired)
			return
		}

		raw, err := rawParams(desc, view, r)
		if err != nil {
			d.writeError(w, desc, view, err)
			return
		}
		args, err := schema.Validate(ctx, def.Schema, raw, d.resolver)
		if err != nil {
			d.writeError(w, desc, view, err)
			return
		}

		if !def.Policy.Evaluate(user, args) {
			d.writeError(w, desc, view, apperrors.ErrForbidden)
			return
		}

		if view == ViewList {
			d.serveList(w, r, desc, def, user, args)
			return
		}
		d.serveSingular(w, r, desc, view, def, user, args)
	}
}

func (d *Dispatcher) serveList(w http.ResponseWriter, r *http.Request, desc *Descriptor, def *ViewDef, user *models.User, args schema.Args) {
	ctx := r.Context()
	total, entities, err := def.Lister(ctx, user, args)
	if err != nil {
		d.writeError(w, desc, ViewList, err)
		return
	}

	embed := args.StringList("embed")
	items := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		serialized, err := Serialize(ctx, desc, e, embed)
		if err != nil {
			d.writeError(w, desc, ViewList, err)
			return
		}
		items = append(items, serialized)
	}

	d.writeJSON(w, http.StatusOK, map[string]any{
		desc.Name + "_collection": map[string]any{
			"uri":   desc.CollectionURI(),
			"total": total,
			"items": items,
		},
	})
}

func (d *Dispatcher) serveSingular(w http.ResponseWriter, r *http.Request, desc *Descriptor, view View, def *ViewDef, user *models.User, args schema.Args) {
	ctx := r.Context()
	entity, err := def.Handler(ctx, user, args)
	if err != nil {
		d.writeError(w, desc, view, err)
		return
	}

	if view == ViewDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	serialized, err := Serialize(ctx, desc, entity, args.StringList("embed"))
	if err != nil {
		d.writeError(w, desc, view, err)
		return
	}

	status := http.StatusOK
	if view == ViewAdd {
		w.Header().Set("Location", desc.URI(entity))
		status = http.StatusCreated
		if desc.Task != nil {
			status = http.StatusAccepted
		}
	}
	d.writeJSON(w, status, map[string]any{desc.Name: serialized})
}

// rawParams assembles the raw parameter mapping for a view: the path key
// under the resource's own name, plus query parameters (GET/DELETE) or the
// JSON body (POST/PATCH). Values stay raw; coercion is the validator's job.
func rawParams(desc *Descriptor, view View, r *http.Request) (map[string]any, error) {
	raw := make(map[string]any)

	switch view {
	case ViewList, ViewGet, ViewDelete:
		for name, values := range r.URL.Query() {
			if len(values) == 0 {
				continue
			}
			raw[name] = queryValue(desc, view, name, values[0])
		}
	case ViewAdd, ViewEdit:
		body, err := decodeBody(r.Body)
		if err != nil {
			return nil, err
		}
		for name, value := range body {
			raw[name] = value
		}
	}

	if view != ViewList && view != ViewAdd {
		raw[desc.Name] = r.PathValue("key")
	}
	return raw, nil
}

// queryValue reshapes a query string per the declared field type: list
// fields split on commas, dict fields decode as JSON. Everything else
// passes through as the raw string; undeclared names pass through so the
// closed schema rejects them.
func queryValue(desc *Descriptor, view View, name, value string) any {
	def, ok := desc.Views[view]
	if !ok {
		return value
	}
	field, ok := def.Schema[name]
	if !ok {
		return value
	}
	switch field.Type {
	case schema.List:
		parts := strings.Split(value, ",")
		list := make([]any, len(parts))
		for i, part := range parts {
			list[i] = part
		}
		return list
	case schema.Dict:
		var dict map[string]any
		if err := json.Unmarshal([]byte(value), &dict); err != nil {
			return value
		}
		return dict
	default:
		return value
	}
}

func decodeBody(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, apperrors.NewValidation(apperrors.KindInvalidValue, "",
			"request body must be a JSON object")
	}
	return decoded, nil
}

func (d *Dispatcher) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError maps the shared error taxonomy to status-coded {code, message}
// bodies. Anything unclassified is logged and reported as internal_error.
func (d *Dispatcher) writeError(w http.ResponseWriter, desc *Descriptor, view View, err error) {
	var (
		status int
		code   string
	)
	ve, isValidation := apperrors.AsValidation(err)
	switch {
	case errors.Is(err, apperrors.ErrAuthRequired):
		status, code = http.StatusUnauthorized, "authentication_required"
	case isValidation:
		status, code = http.StatusBadRequest, ve.Kind
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrTaskRunning):
		status, code = http.StatusConflict, "task_running"
	case errors.Is(err, apperrors.ErrIntegrity):
		status, code = http.StatusConflict, "integrity_violation"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	default:
		d.logger.Error("View failed",
			zap.String("resource", desc.Name),
			zap.String("view", string(view)),
			zap.Error(err))
		status, code = http.StatusInternalServerError, "internal_error"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	d.writeJSON(w, status, map[string]string{"code": code, "message": message})
}
