package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/auth"
)

// TokenHandler issues bearer tokens for login/password credentials.
type TokenHandler struct {
	auth   auth.Service
	logger *zap.Logger
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(service auth.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{auth: service, logger: logger}
}

// RegisterRoutes registers the token route on the given mux.
func (h *TokenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tokens", h.Issue)
}

// Issue handles POST /tokens
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_value", "request body must be a JSON object")
		return
	}
	if credentials.Login == "" || credentials.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "login and password are required")
		return
	}

	user, err := h.auth.Authenticate(r.Context(), credentials.Login, credentials.Password)
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthRequired) {
			writeError(w, http.StatusUnauthorized, "authentication_required", "invalid credentials")
			return
		}
		h.logger.Error("Failed to authenticate", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	_ = writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"user":  "/users/" + itoa(user.ID),
	})
}
