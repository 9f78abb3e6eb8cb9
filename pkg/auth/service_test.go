package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/testhelpers"
)

func newService(t *testing.T, ttl time.Duration) (auth.Service, *models.User) {
	t.Helper()
	users := testhelpers.NewUsers()
	user := testhelpers.CreateUser(t, users, "alice", models.RoleAnnotator)
	return auth.NewService(users, "test-secret", ttl), user
}

func TestAuthenticate(t *testing.T) {
	service, _ := newService(t, time.Hour)

	// Fixture users have their login as password.
	user, err := service.Authenticate(context.Background(), "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Login)

	_, err = service.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)

	_, err = service.Authenticate(context.Background(), "nobody", "alice")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestTokenRoundTrip(t *testing.T) {
	service, user := newService(t, time.Hour)

	token, err := service.IssueToken(user)
	require.NoError(t, err)

	resolved, err := service.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, []string{models.RoleAnnotator}, resolved.Roles)
}

func TestResolveToken_Expired(t *testing.T) {
	service, user := newService(t, -time.Minute)

	token, err := service.IssueToken(user)
	require.NoError(t, err)

	_, err = service.ResolveToken(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestResolveToken_WrongSecret(t *testing.T) {
	users := testhelpers.NewUsers()
	user := testhelpers.CreateUser(t, users, "alice")
	issuer := auth.NewService(users, "secret-a", time.Hour)
	verifier := auth.NewService(users, "secret-b", time.Hour)

	token, err := issuer.IssueToken(user)
	require.NoError(t, err)

	_, err = verifier.ResolveToken(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestResolveToken_Garbage(t *testing.T) {
	service, _ := newService(t, time.Hour)

	_, err := service.ResolveToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestBearerToken(t *testing.T) {
	token, ok := auth.BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = auth.BearerToken("")
	assert.False(t, ok)
	_, ok = auth.BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = auth.BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestResolveUser_PopulatesContextWithoutRejecting(t *testing.T) {
	service, user := newService(t, time.Hour)
	middleware := auth.NewMiddleware(service, zap.NewNop())

	var got *models.User
	var present bool
	handler := middleware.ResolveUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = auth.GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := service.IssueToken(user)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, present)
	assert.Equal(t, user.ID, got.ID)

	// No token: the request still passes through, just without a user.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, present)
}

func TestRequireUser_RejectsMissingOrBadToken(t *testing.T) {
	service, user := newService(t, time.Hour)
	middleware := auth.NewMiddleware(service, zap.NewNop())

	handler := middleware.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := service.IssueToken(user)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
