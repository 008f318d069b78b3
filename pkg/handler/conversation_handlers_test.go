package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/event"
	"github.com/robert1948/localstorm-sub001/pkg/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	search, err := service.NewSearchService(gdb)
	require.NoError(t, err)

	conversations := service.NewConversationService(
		gdb, &config.AppConfig{}, search, service.NewMemorySnapshotCache(), event.NewEmitter())

	r := gin.New()
	api := r.Group("/api")
	NewConversationHandler(conversations).RegisterRoutes(api)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	// Create
	w := doJSON(t, r, http.MethodPost, "/api/conversations", map[string]any{
		"title": "Postgres tuning",
		"type":  "technical",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	conv := decodeBody(t, w)
	id := conv["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "active", conv["status"])

	// Append two messages
	w = doJSON(t, r, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]any{
		"role": "user", "content": "why is my postgres query slow?",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	msg := decodeBody(t, w)
	assert.Equal(t, float64(1), msg["seq"])

	w = doJSON(t, r, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]any{
		"role": "assistant", "content": "the postgres query needs an index.",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// List sees the new content immediately
	w = doJSON(t, r, http.MethodGet, "/api/conversations?q=postgres", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody(t, w)
	assert.Len(t, list["conversations"], 1)
	assert.Equal(t, false, list["has_more"])

	// Messages in sequence order
	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["messages"], 2)

	// Threads exist
	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id+"/threads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["threads"])

	// Summary and analytics
	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody(t, w)
	assert.NotNil(t, summary["quality_score"])

	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id+"/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["message_count"])

	// Rethread
	w = doJSON(t, r, http.MethodPost, "/api/conversations/"+id+"/rethread", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Delete
	w = doJSON(t, r, http.MethodDelete, "/api/conversations/"+id, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	r := newTestRouter(t)

	// Not found
	w := doJSON(t, r, http.MethodGet, "/api/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Validation
	w = doJSON(t, r, http.MethodPost, "/api/conversations", map[string]any{"type": "poetry"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Conflict: append to an archived conversation
	w = doJSON(t, r, http.MethodPost, "/api/conversations", map[string]any{"title": "Done"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPatch, "/api/conversations/"+id, map[string]any{"status": "archived"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]any{
		"role": "user", "content": "too late",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Validation: an impossible status transition (archived is terminal)
	w = doJSON(t, r, http.MethodPatch, "/api/conversations/"+id, map[string]any{"status": "active"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOwnerHeaderScopesRequests(t *testing.T) {
	r := newTestRouter(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"title": "Alice's notes"}))
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	// Default owner cannot see alice's conversation.
	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAcceptsRepeatedTagParams(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/conversations", map[string]any{
		"title": "Release runbook",
		"tags":  []string{"infra", "release"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/conversations?tag=infra&tag=release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["conversations"], 1)

	// All requested tags must be present.
	w = doJSON(t, r, http.MethodGet, "/api/conversations?tag=infra&tag=billing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["conversations"])
}

func TestListRejectsBadTimestamp(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/conversations?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
