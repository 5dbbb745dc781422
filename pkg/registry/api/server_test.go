package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry"
	memorystore "github.com/skillhub/registry/pkg/registry/repo/memory"
	memoryblob "github.com/skillhub/registry/pkg/registry/storage/memory"
)

func setupServerTest(t *testing.T) (http.Handler, *Auth) {
	t.Helper()
	svc, err := registry.New(
		registry.WithStore(memorystore.New()),
		registry.WithBlobStore(memoryblob.New()),
	)
	require.NoError(t, err)
	auth := NewAuth("test-secret")
	return NewServer(svc, auth, "test").Routes(), auth
}

func mintToken(t *testing.T, auth *Auth, userID uuid.UUID, role registry.Role) string {
	t.Helper()
	_, token, err := auth.TokenAuth().Encode(map[string]interface{}{
		"sub":  userID.String(),
		"role": string(role),
	})
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func publishBody(slug, version string) PublishRequestBody {
	return PublishRequestBody{
		Slug:        slug,
		DisplayName: "Test Skill",
		Summary:     "A skill used in tests",
		Version:     version,
		Files: []registry.FileRef{
			{Path: "skill.md", Size: 128, StorageKey: "staging/k/skill.md", SHA256: "aaa111"},
		},
	}
}

func TestHealth(t *testing.T) {
	router, _ := setupServerTest(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishRequiresAuth(t *testing.T) {
	router, _ := setupServerTest(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", "", publishBody("pdf-tools", "1.0.0"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishAndGet(t *testing.T) {
	router, auth := setupServerTest(t)
	token := mintToken(t, auth, uuid.New(), registry.RoleUser)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", token, publishBody("pdf-tools", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.NotEqual(t, uuid.Nil, resp.ItemID)

	// Republishing the same version conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/skills/", token, publishBody("pdf-tools", "1.0.0"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/skills/pdf-tools", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/skills/no-such-skill", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Kinds are separate namespaces.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/personas/pdf-tools", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishValidationStatus(t *testing.T) {
	router, auth := setupServerTest(t)
	token := mintToken(t, auth, uuid.New(), registry.RoleUser)

	body := publishBody("Bad Slug", "1.0.0")
	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestStarToggleEndpoint(t *testing.T) {
	router, auth := setupServerTest(t)
	owner := mintToken(t, auth, uuid.New(), registry.RoleUser)
	user := mintToken(t, auth, uuid.New(), registry.RoleUser)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", owner, publishBody("pdf-tools", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/skills/pdf-tools/star", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var star StarResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &star))
	assert.True(t, star.Starred)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/skills/pdf-tools/star", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &star))
	assert.False(t, star.Starred)
}

func TestDownloadEndpoint(t *testing.T) {
	router, auth := setupServerTest(t)
	owner := mintToken(t, auth, uuid.New(), registry.RoleUser)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", owner, publishBody("pdf-tools", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/skills/pdf-tools/download", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result registry.DownloadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "1.0.0", result.Version)
	require.Len(t, result.Files, 1)
	assert.NotEmpty(t, result.Files[0].URL)
}

func TestSearchEndpoint(t *testing.T) {
	router, auth := setupServerTest(t)
	owner := mintToken(t, auth, uuid.New(), registry.RoleUser)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/search/", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := publishBody("chart-maker", "1.0.0")
	body.Summary = "Generates chart images"
	rec = doJSON(t, router, http.MethodPost, "/api/v1/skills/", owner, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/search/?q=chart", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "chart-maker", resp.Results[0].Slug)
}

func TestAdminModeration(t *testing.T) {
	router, auth := setupServerTest(t)
	owner := mintToken(t, auth, uuid.New(), registry.RoleUser)
	moderator := mintToken(t, auth, uuid.New(), registry.RoleModerator)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", owner, publishBody("pdf-tools", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	hidePath := fmt.Sprintf("/api/v1/admin/items/%s/hide", resp.ItemID)

	// Regular users cannot moderate.
	rec = doJSON(t, router, http.MethodPost, hidePath, owner, ModerationRequestBody{Reason: "spam"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, hidePath, moderator, ModerationRequestBody{Reason: "spam"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Hidden items vanish from the public surface.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/skills/pdf-tools", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	restorePath := fmt.Sprintf("/api/v1/admin/items/%s/restore", resp.ItemID)
	rec = doJSON(t, router, http.MethodPost, restorePath, moderator, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/skills/pdf-tools", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScanVerdictEndpoint(t *testing.T) {
	router, auth := setupServerTest(t)
	owner := mintToken(t, auth, uuid.New(), registry.RoleUser)
	moderator := mintToken(t, auth, uuid.New(), registry.RoleModerator)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/skills/", owner, publishBody("pdf-tools", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	scanPath := fmt.Sprintf("/api/v1/admin/versions/%s/scan", resp.VersionID)

	rec = doJSON(t, router, http.MethodPost, scanPath, owner, ScanVerdictRequestBody{Status: registry.ScanMalicious})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, scanPath, moderator, ScanVerdictRequestBody{
		Status:  registry.ScanMalicious,
		Verdict: "trojan",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The malicious verdict auto-hid the item.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/skills/pdf-tools", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresignUploadEndpoint(t *testing.T) {
	router, auth := setupServerTest(t)
	token := mintToken(t, auth, uuid.New(), registry.RoleUser)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/uploads/presign", "", PresignRequestBody{Path: "skill.md"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/uploads/presign", token, PresignRequestBody{Path: "skill.md"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PresignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UploadURL)
	assert.Contains(t, resp.StorageKey, "staging/")

	rec = doJSON(t, router, http.MethodPost, "/api/v1/uploads/presign", token, PresignRequestBody{Path: "../escape.md"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
