package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/instarlab/instar-maps/backend/internal/assets"
	"github.com/instarlab/instar-maps/backend/internal/document"
	"github.com/instarlab/instar-maps/backend/internal/projects"
)

func TestProjectLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/projects/", `{
		"meta": {"projectName": "Campus A"},
		"scale": 1,
		"nodes": {"n1": {"x": 1}}
	}`, http.StatusCreated)

	id := int64(created["id"].(float64))
	if created["slug"] != "campus-a" {
		t.Fatalf("unexpected slug %v", created["slug"])
	}

	fetched := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/projects/%d/", id), "", http.StatusOK)
	if fetched["slug"] != "campus-a" {
		t.Fatalf("get returned wrong record: %#v", fetched)
	}

	patched := doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/projects/%d/", id), `{"scale": 2}`, http.StatusOK)
	if patched["scale"] != 2.0 {
		t.Fatalf("expected scale 2, got %v", patched["scale"])
	}
	nodes := patched["nodes"].(map[string]any)
	if _, present := nodes["n1"]; !present {
		t.Fatalf("partial update clobbered nodes: %#v", patched)
	}

	bySlug := doJSON(t, handler, http.MethodGet, "/projects/slug/campus-a/", "", http.StatusOK)
	if int64(bySlug["id"].(float64)) != id {
		t.Fatalf("slug lookup returned wrong record: %#v", bySlug)
	}

	byName := doJSON(t, handler, http.MethodGet, "/projects/by-name/Campus%20A/", "", http.StatusOK)
	if int64(byName["id"].(float64)) != id {
		t.Fatalf("name lookup returned wrong record: %#v", byName)
	}

	listRecorder := doRequest(handler, http.MethodGet, "/projects/", "")
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected list status 200, got %d", listRecorder.Code)
	}
	var summaries []map[string]any
	if err := json.Unmarshal(listRecorder.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["slug"] != "campus-a" {
		t.Fatalf("unexpected list payload: %#v", summaries)
	}

	deleted := doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/projects/%d/", id), "", http.StatusOK)
	if deleted["ok"] != true {
		t.Fatalf("unexpected delete payload: %#v", deleted)
	}

	missing := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/projects/%d/", id), "", http.StatusNotFound)
	if missing["error"] != "not found" {
		t.Fatalf("unexpected 404 payload: %#v", missing)
	}
}

func TestCreateAbsorbsMalformedBody(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/projects/", `{broken json`, http.StatusCreated)

	meta := created["meta"].(map[string]any)
	if meta["projectName"] != document.DefaultProjectName {
		t.Fatalf("expected placeholder project name, got %v", meta["projectName"])
	}
	if _, ok := created["nodes"].(map[string]any); !ok {
		t.Fatalf("expected canonical document in response: %#v", created)
	}
}

func TestNotFoundResponses(t *testing.T) {
	handler := newTestHandler(t)

	paths := []string{
		"/projects/999/",
		"/projects/slug/no-such-slug/",
		"/projects/by-name/NoSuchName/",
		"/projects/999/export-txt/",
	}
	for _, path := range paths {
		payload := doJSON(t, handler, http.MethodGet, path, "", http.StatusNotFound)
		if payload["error"] != "not found" {
			t.Fatalf("unexpected 404 payload for %s: %#v", path, payload)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)

	payload := doJSON(t, handler, http.MethodDelete, "/projects/", "", http.StatusMethodNotAllowed)
	if payload["error"] != "method not allowed" {
		t.Fatalf("unexpected 405 payload: %#v", payload)
	}
}

func TestExportTxtIsReserved(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/projects/", `{"meta":{"projectName":"Campus A"}}`, http.StatusCreated)
	id := int64(created["id"].(float64))

	payload := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/projects/%d/export-txt/", id), "", http.StatusNotImplemented)
	if payload["detail"] != "Not Implemented" {
		t.Fatalf("unexpected 501 payload: %#v", payload)
	}
}

func TestCORSPreflightAllowsEditorOrigins(t *testing.T) {
	handler := newTestHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/projects/", http.NoBody)
	request.Header.Set("Origin", "https://editor.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodPut) {
		t.Fatalf("expected PUT allowed, got %q", allowMethods)
	}
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, wantStatus int) map[string]any {
	t.Helper()
	recorder := doRequest(handler, method, path, body)
	if recorder.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (%s)", method, path, wantStatus, recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:instar_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&projects.Project{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	storage, err := assets.NewFileSystemStorage(assets.FileSystemStorageConfig{
		Root:    t.TempDir(),
		BaseURL: "/media",
	})
	if err != nil {
		t.Fatalf("failed to construct storage: %v", err)
	}

	projectsService, err := projects.NewService(projects.ServiceConfig{
		Database:     db,
		Logger:       zap.NewNop(),
		AssetCleanup: assets.NewCleanup(storage),
	})
	if err != nil {
		t.Fatalf("failed to construct projects service: %v", err)
	}

	assetsService, err := assets.NewService(assets.ServiceConfig{
		Storage:  storage,
		Projects: projectsService,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct assets service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		ProjectsService: projectsService,
		AssetsService:   assetsService,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}
