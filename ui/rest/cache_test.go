package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	infraStorage "github.com/orbitalweb/ow-agent/infrastructure/storage"
	"github.com/orbitalweb/ow-agent/ui/rest/middleware"
	"github.com/orbitalweb/ow-agent/usecase"
)

type envelope struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store, err := infraStorage.NewSQLiteStore(
		filepath.Join(t.TempDir(), "artifacts.db"), domainArtifact.Partitions())
	if err != nil {
		t.Fatalf("NewSQLiteStore() unexpected error: %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() unexpected error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	app := fiber.New()
	app.Use(middleware.Recovery())
	InitRestCache(app, usecase.NewArtifactCacheService(store))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error (%s %s): %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response (%s %s): %v", method, path, err)
	}
	return resp.StatusCode, env
}

func TestCacheRoutes_WriteReadDeleteFlow(t *testing.T) {
	app := newTestApp(t)

	status, env := doJSON(t, app, http.MethodPost, "/artifacts", map[string]any{
		"sessionId":   "session1",
		"data":        map[string]any{"page": "content"},
		"description": "scraped page",
	})
	if status != http.StatusOK || env.Code != "SUCCESS" {
		t.Fatalf("write status=%d code=%q message=%q", status, env.Code, env.Message)
	}
	var metadata domainArtifact.ItemMetadata
	if err := json.Unmarshal(env.Results, &metadata); err != nil {
		t.Fatalf("decode write results: %v", err)
	}
	if metadata.StorageKey == "" {
		t.Fatalf("write returned empty storage key")
	}

	status, env = doJSON(t, app, http.MethodGet, "/artifacts/"+metadata.StorageKey, nil)
	if status != http.StatusOK {
		t.Fatalf("read status=%d message=%q", status, env.Message)
	}
	var item domainArtifact.CacheItem
	if err := json.Unmarshal(env.Results, &item); err != nil {
		t.Fatalf("decode read results: %v", err)
	}
	data, ok := item.Data.(map[string]any)
	if !ok || data["page"] != "content" {
		t.Fatalf("read returned wrong payload: %v", item.Data)
	}

	status, env = doJSON(t, app, http.MethodDelete, "/artifacts/"+metadata.StorageKey, nil)
	if status != http.StatusOK {
		t.Fatalf("delete status=%d message=%q", status, env.Message)
	}
	var deleteResult struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(env.Results, &deleteResult); err != nil {
		t.Fatalf("decode delete results: %v", err)
	}
	if !deleteResult.Deleted {
		t.Fatalf("delete expected deleted=true")
	}

	status, env = doJSON(t, app, http.MethodGet, "/artifacts/"+metadata.StorageKey, nil)
	if status != http.StatusNotFound || env.Code != "ITEM_NOT_FOUND" {
		t.Fatalf("read after delete status=%d code=%q, want 404 ITEM_NOT_FOUND", status, env.Code)
	}
}

func TestCacheRoutes_ValidationErrors(t *testing.T) {
	app := newTestApp(t)

	status, env := doJSON(t, app, http.MethodPost, "/artifacts", map[string]any{
		"sessionId": "has_separator",
		"data":      "payload",
	})
	if status != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("separator sessionId status=%d code=%q, want 400 VALIDATION_ERROR", status, env.Code)
	}

	status, env = doJSON(t, app, http.MethodGet, "/artifacts/not-a-key", nil)
	if status != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("malformed key status=%d code=%q, want 400 VALIDATION_ERROR", status, env.Code)
	}
}

func TestCacheRoutes_ListAndStats(t *testing.T) {
	app := newTestApp(t)

	for _, description := range []string{"first", "second"} {
		status, env := doJSON(t, app, http.MethodPost, "/artifacts", map[string]any{
			"sessionId":   "session1",
			"data":        "payload " + description,
			"description": description,
		})
		if status != http.StatusOK {
			t.Fatalf("write %q status=%d message=%q", description, status, env.Message)
		}
	}

	status, env := doJSON(t, app, http.MethodGet, "/sessions/session1/artifacts", nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d message=%q", status, env.Message)
	}
	var items []domainArtifact.ItemMetadata
	if err := json.Unmarshal(env.Results, &items); err != nil {
		t.Fatalf("decode list results: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("list expected 2 items, got %d", len(items))
	}

	status, env = doJSON(t, app, http.MethodGet, "/sessions/session1/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status=%d message=%q", status, env.Message)
	}
	var stats domainArtifact.SessionQuota
	if err := json.Unmarshal(env.Results, &stats); err != nil {
		t.Fatalf("decode stats results: %v", err)
	}
	if stats.ItemCount != 2 || stats.TotalSize == 0 {
		t.Fatalf("stats = %d items / %d bytes, want 2 items and a non-zero size", stats.ItemCount, stats.TotalSize)
	}

	status, env = doJSON(t, app, http.MethodDelete, "/sessions/session1", nil)
	if status != http.StatusOK {
		t.Fatalf("clear session status=%d message=%q", status, env.Message)
	}
	var cleared struct {
		Removed int64 `json:"removed"`
	}
	if err := json.Unmarshal(env.Results, &cleared); err != nil {
		t.Fatalf("decode clear results: %v", err)
	}
	if cleared.Removed != 2 {
		t.Fatalf("clear session removed %d, want 2", cleared.Removed)
	}
}

func TestCacheRoutes_GlobalStatsAndQuota(t *testing.T) {
	app := newTestApp(t)

	status, env := doJSON(t, app, http.MethodPost, "/artifacts", map[string]any{
		"sessionId": "session1",
		"data":      "payload",
	})
	if status != http.StatusOK {
		t.Fatalf("write status=%d message=%q", status, env.Message)
	}

	status, env = doJSON(t, app, http.MethodGet, "/cache/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("global stats status=%d message=%q", status, env.Message)
	}
	var stats domainArtifact.GlobalStats
	if err := json.Unmarshal(env.Results, &stats); err != nil {
		t.Fatalf("decode global stats: %v", err)
	}
	if stats.SessionCount != 1 || stats.ItemCount != 1 {
		t.Fatalf("global stats = %+v, want 1 session / 1 item", stats)
	}

	status, env = doJSON(t, app, http.MethodGet, "/cache/quota", nil)
	if status != http.StatusOK {
		t.Fatalf("quota check status=%d message=%q", status, env.Message)
	}
	var quota struct {
		Exceeded bool `json:"exceeded"`
	}
	if err := json.Unmarshal(env.Results, &quota); err != nil {
		t.Fatalf("decode quota results: %v", err)
	}
	if quota.Exceeded {
		t.Fatalf("a single tiny artifact must not exceed the global quota")
	}
}

func TestCacheRoutes_ConfigRoundtrip(t *testing.T) {
	app := newTestApp(t)

	status, env := doJSON(t, app, http.MethodPut, "/cache/config", map[string]any{
		"outdatedCleanupDays": 7,
	})
	if status != http.StatusOK {
		t.Fatalf("update config status=%d message=%q", status, env.Message)
	}
	var config domainArtifact.CacheConfig
	if err := json.Unmarshal(env.Results, &config); err != nil {
		t.Fatalf("decode config results: %v", err)
	}
	if config.OutdatedCleanupDays != 7 {
		t.Fatalf("config days = %d, want 7", config.OutdatedCleanupDays)
	}
	if config.SessionEvictionFraction != domainArtifact.DefaultEvictionFraction {
		t.Fatalf("untouched fraction changed: %v", config.SessionEvictionFraction)
	}

	status, env = doJSON(t, app, http.MethodGet, "/cache/config", nil)
	if status != http.StatusOK {
		t.Fatalf("get config status=%d message=%q", status, env.Message)
	}
	if err := json.Unmarshal(env.Results, &config); err != nil {
		t.Fatalf("decode config results: %v", err)
	}
	if config.OutdatedCleanupDays != 7 {
		t.Fatalf("persisted config days = %d, want 7", config.OutdatedCleanupDays)
	}

	status, env = doJSON(t, app, http.MethodPut, "/cache/config", map[string]any{
		"sessionEvictionFraction": 2.0,
	})
	if status != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("invalid fraction status=%d code=%q, want 400 VALIDATION_ERROR", status, env.Code)
	}
}

func TestCacheRoutes_CleanupEndpoints(t *testing.T) {
	app := newTestApp(t)

	status, env := doJSON(t, app, http.MethodPost, "/cache/cleanup/orphans", map[string]any{
		"maxAgeHours": 24,
	})
	if status != http.StatusOK {
		t.Fatalf("orphan cleanup status=%d message=%q", status, env.Message)
	}

	status, env = doJSON(t, app, http.MethodPost, "/cache/cleanup/outdated", map[string]any{
		"maxAgeDays": 30,
	})
	if status != http.StatusOK {
		t.Fatalf("outdated cleanup status=%d message=%q", status, env.Message)
	}
	var result struct {
		Removed int64 `json:"removed"`
	}
	if err := json.Unmarshal(env.Results, &result); err != nil {
		t.Fatalf("decode cleanup results: %v", err)
	}
	if result.Removed != 0 {
		t.Fatalf("cleanup on an empty cache removed %d, want 0", result.Removed)
	}
}
