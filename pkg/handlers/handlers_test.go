package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/testhelpers"
)

// testEnv wires the full route table onto in-memory fakes and issues real
// bearer tokens, so requests travel the same path they do in production.
type testEnv struct {
	t       *testing.T
	handler http.Handler
	auth    auth.Service

	users        *testhelpers.Users
	samples      *testhelpers.Samples
	dataSources  *testhelpers.DataSources
	variations   *testhelpers.Variations
	coverages    *testhelpers.Coverages
	annotations  *testhelpers.Annotations
	observations *testhelpers.Observations
	blobs        *testhelpers.Blobs
	runner       *testhelpers.Runner

	admin *models.User
	alice *models.User
	bob   *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := testhelpers.NewUsers()
	samples := testhelpers.NewSamples()
	dataSources := testhelpers.NewDataSources()
	variations := testhelpers.NewVariations(samples)
	coverages := testhelpers.NewCoverages(samples)
	annotations := testhelpers.NewAnnotations(dataSources)
	observations := testhelpers.NewObservations(variations, coverages, samples)
	blobs := testhelpers.NewBlobs()
	runner := testhelpers.NewRunner()
	service := auth.NewService(users, "test-secret", time.Hour)

	mux := http.NewServeMux()
	err := RegisterRoutes(mux, Dependencies{
		Users:        users,
		Samples:      samples,
		DataSources:  dataSources,
		Variations:   variations,
		Coverages:    coverages,
		Annotations:  annotations,
		Observations: observations,

		Blobs:  blobs,
		Runner: runner,
		Auth:   service,

		TaskPollTimeout: time.Millisecond,
		Version:         "test",
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)

	e := &testEnv{
		t:            t,
		handler:      auth.NewMiddleware(service, zap.NewNop()).ResolveUser(mux),
		auth:         service,
		users:        users,
		samples:      samples,
		dataSources:  dataSources,
		variations:   variations,
		coverages:    coverages,
		annotations:  annotations,
		observations: observations,
		blobs:        blobs,
		runner:       runner,
	}
	e.admin = testhelpers.CreateUser(t, users, "admin", models.RoleAdmin)
	e.alice = testhelpers.CreateUser(t, users, "alice")
	e.bob = testhelpers.CreateUser(t, users, "bob")
	return e
}

// do performs a request as the given user (nil for anonymous), marshaling
// body as JSON when present.
func (e *testEnv) do(as *models.User, method, target string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if as != nil {
		token, err := e.auth.IssueToken(as)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

// object digs a nested JSON object out of a decoded response.
func object(t *testing.T, body map[string]any, keys ...string) map[string]any {
	t.Helper()
	for _, key := range keys {
		nested, ok := body[key].(map[string]any)
		require.True(t, ok, "expected object at %q, got %T", key, body[key])
		body = nested
	}
	return body
}

func TestHealth_NoAuthenticationRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(nil, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestIssueToken(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(nil, http.MethodPost, "/tokens",
		map[string]any{"login": "alice", "password": "alice"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, fmt.Sprintf("/users/%d", e.alice.ID), body["user"])
	token, ok := body["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// The issued token works against a protected route.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/users/%d", e.alice.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	out := httptest.NewRecorder()
	e.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestIssueToken_BadCredentials(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(nil, http.MethodPost, "/tokens",
		map[string]any{"login": "alice", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_required", decode(t, rec)["code"])

	rec = e.do(nil, http.MethodPost, "/tokens", map[string]any{"login": "alice"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_field", decode(t, rec)["code"])
}

func TestAddSample_Defaults(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(e.alice, http.MethodPost, "/samples/",
		map[string]any{"name": "Exome pool"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/samples/1", rec.Header().Get("Location"))
	sample := object(t, decode(t, rec), "sample")
	assert.Equal(t, "Exome pool", sample["name"])
	assert.Equal(t, float64(1), sample["pool_size"])
	assert.Equal(t, false, sample["active"])
	assert.Equal(t, false, sample["public"])
	assert.Equal(t, fmt.Sprintf("/users/%d", e.alice.ID),
		object(t, sample, "user")["uri"])
}

func TestAddSample_ExplicitFields(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(e.alice, http.MethodPost, "/samples/", map[string]any{
		"name":             "1000 genomes",
		"pool_size":        500,
		"coverage_profile": true,
		"public":           true,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	sample := object(t, decode(t, rec), "sample")
	assert.Equal(t, float64(500), sample["pool_size"])
	assert.Equal(t, true, sample["coverage_profile"])
	assert.Equal(t, true, sample["public"])
	// New samples are never active; activation is an explicit edit.
	assert.Equal(t, false, sample["active"])
}

func TestAddSample_MissingName(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(e.alice, http.MethodPost, "/samples/", map[string]any{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_field", decode(t, rec)["code"])
}

func TestGetSample_Visibility(t *testing.T) {
	e := newTestEnv(t)
	private := testhelpers.CreateSample(t, e.samples, e.alice, "private")
	public := testhelpers.CreateSample(t, e.samples, e.alice, "public")
	public.Public = true
	require.NoError(t, e.samples.Update(context.Background(), public))

	privateURL := fmt.Sprintf("/samples/%d", private.ID)
	assert.Equal(t, http.StatusUnauthorized, e.do(nil, http.MethodGet, privateURL, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(e.alice, http.MethodGet, privateURL, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(e.bob, http.MethodGet, privateURL, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(e.admin, http.MethodGet, privateURL, nil).Code)

	// Public samples are visible to everyone authenticated.
	publicURL := fmt.Sprintf("/samples/%d", public.ID)
	assert.Equal(t, http.StatusOK, e.do(e.bob, http.MethodGet, publicURL, nil).Code)
}

func TestListSamples_Scoping(t *testing.T) {
	e := newTestEnv(t)
	testhelpers.CreateSample(t, e.samples, e.alice, "first")
	testhelpers.CreateSample(t, e.samples, e.alice, "second")
	shared := testhelpers.CreateSample(t, e.samples, e.bob, "shared")
	shared.Public = true
	require.NoError(t, e.samples.Update(context.Background(), shared))

	// Non-admins must narrow the listing to themselves or to public samples.
	rec := e.do(e.alice, http.MethodGet, "/samples/", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(e.alice, http.MethodGet, fmt.Sprintf("/samples/?user=%d", e.alice.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	collection := object(t, decode(t, rec), "sample_collection")
	assert.Equal(t, float64(2), collection["total"])
	assert.Equal(t, "/samples/", collection["uri"])

	rec = e.do(e.alice, http.MethodGet, "/samples/?public=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), object(t, decode(t, rec), "sample_collection")["total"])

	rec = e.do(e.admin, http.MethodGet, "/samples/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), object(t, decode(t, rec), "sample_collection")["total"])
}

func TestEditSample_DeactivatesUnlessStated(t *testing.T) {
	e := newTestEnv(t)
	sample := testhelpers.CreateSample(t, e.samples, e.alice, "pool")
	url := fmt.Sprintf("/samples/%d", sample.ID)

	rec := e.do(e.alice, http.MethodPatch, url, map[string]any{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, object(t, decode(t, rec), "sample")["active"])

	// Any edit without an explicit activation drops the sample out of the
	// active set.
	rec = e.do(e.alice, http.MethodPatch, url, map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := object(t, decode(t, rec), "sample")
	assert.Equal(t, "renamed", body["name"])
	assert.Equal(t, false, body["active"])

	rec = e.do(e.bob, http.MethodPatch, url, map[string]any{"name": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteSample(t *testing.T) {
	e := newTestEnv(t)
	sample := testhelpers.CreateSample(t, e.samples, e.alice, "pool")
	url := fmt.Sprintf("/samples/%d", sample.ID)

	assert.Equal(t, http.StatusForbidden, e.do(e.bob, http.MethodDelete, url, nil).Code)

	rec := e.do(e.alice, http.MethodDelete, url, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The key no longer resolves.
	rec = e.do(e.alice, http.MethodGet, url, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_reference", decode(t, rec)["code"])
}

func TestAddDataSource_StagesLocalFile(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("##fileformat=VCFv4.1\n")
	path := filepath.Join(t.TempDir(), "calls.vcf")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	rec := e.do(e.alice, http.MethodPost, "/data_sources/", map[string]any{
		"name":       "exome calls",
		"filetype":   "vcf",
		"local_path": path,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	ds := object(t, decode(t, rec), "data_source")
	assert.Equal(t, "exome calls", ds["name"])
	assert.Equal(t, "vcf", ds["filetype"])
	assert.Equal(t, false, ds["gzipped"])
	assert.Equal(t, "/data_sources/1/data", object(t, ds, "data")["uri"])
}

func TestAddDataSource_Invalid(t *testing.T) {
	e := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "calls.vcf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	rec := e.do(e.alice, http.MethodPost, "/data_sources/", map[string]any{
		"name":       "calls",
		"filetype":   "pdf",
		"local_path": path,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_value", decode(t, rec)["code"])

	rec = e.do(e.alice, http.MethodPost, "/data_sources/", map[string]any{
		"name":       "calls",
		"filetype":   "vcf",
		"local_path": filepath.Join(t.TempDir(), "missing.vcf"),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_value", decode(t, rec)["code"])
}

func TestDownloadData(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("##fileformat=VCFv4.1\n1\t100\t.\tA\tT\t.\t.\t.\n")
	ds := testhelpers.CreateDataSource(t, e.dataSources, e.blobs, e.alice, "vcf", content)
	url := fmt.Sprintf("/data_sources/%d/data", ds.ID)

	assert.Equal(t, http.StatusUnauthorized, e.do(nil, http.MethodGet, url, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(e.bob, http.MethodGet, url, nil).Code)

	rec := e.do(e.alice, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, content, rec.Body.Bytes())

	assert.Equal(t, http.StatusOK, e.do(e.admin, http.MethodGet, url, nil).Code)

	rec = e.do(e.alice, http.MethodGet, "/data_sources/9999/data", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["code"])
}

func TestUsers_AdminOnly(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(e.bob, http.MethodGet, "/users/", nil).Code)

	rec := e.do(e.admin, http.MethodGet, "/users/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), object(t, decode(t, rec), "user_collection")["total"])

	// Everyone may look at themselves, nobody else.
	self := fmt.Sprintf("/users/%d", e.bob.ID)
	assert.Equal(t, http.StatusOK, e.do(e.bob, http.MethodGet, self, nil).Code)
	other := fmt.Sprintf("/users/%d", e.alice.ID)
	assert.Equal(t, http.StatusForbidden, e.do(e.bob, http.MethodGet, other, nil).Code)
}

func TestAddUser(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(e.admin, http.MethodPost, "/users/", map[string]any{
		"login":    "carol",
		"password": "secret-password",
		"roles":    []string{"importer"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	user := object(t, decode(t, rec), "user")
	assert.Equal(t, "carol", user["login"])
	assert.Equal(t, "carol", user["name"])
	assert.Equal(t, []any{"importer"}, user["roles"])

	// Credentials work right away.
	rec = e.do(nil, http.MethodPost, "/tokens",
		map[string]any{"login": "carol", "password": "secret-password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddUser_Rejections(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{"short password", map[string]any{"login": "carol", "password": "short"}, "invalid_value"},
		{"unsafe login", map[string]any{"login": "carol; drop", "password": "secret-password"}, "invalid_value"},
		{"unknown role", map[string]any{"login": "carol", "password": "secret-password", "roles": []string{"root"}}, "invalid_value"},
		{"duplicate login", map[string]any{"login": "alice", "password": "secret-password"}, "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(e.admin, http.MethodPost, "/users/", tc.body)
			body := decode(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEqual(t, http.StatusCreated, rec.Code)
		})
	}

	rec := e.do(e.alice, http.MethodPost, "/users/",
		map[string]any{"login": "carol", "password": "secret-password"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEditUser_Roles(t *testing.T) {
	e := newTestEnv(t)
	url := fmt.Sprintf("/users/%d", e.bob.ID)

	rec := e.do(e.admin, http.MethodPatch, url,
		map[string]any{"roles": []string{"importer", "annotator"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"importer", "annotator"},
		object(t, decode(t, rec), "user")["roles"])

	assert.Equal(t, http.StatusForbidden,
		e.do(e.bob, http.MethodPatch, url, map[string]any{"name": "Robert"}).Code)

	rec = e.do(e.admin, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
