package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"deltatv-proxy/work/auth"
	"deltatv-proxy/work/buffer"
	"deltatv-proxy/work/config"
	"deltatv-proxy/work/database"
	"deltatv-proxy/work/service"
	"deltatv-proxy/work/types"
)

const testKey = "s3cret"

func newAdminRouter(t *testing.T) (*mux.Router, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hash, err := auth.HashKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		MaxRedirects: 5,
		AdminKeys: []config.AdminKey{
			{Name: "ops", Hash: hash, Role: auth.RoleAdmin},
		},
		Providers: []config.ProviderConfig{{
			Name:        "delta",
			Kind:        config.KindM3U,
			CatalogURL:  "http://127.0.0.1:1/list.m3u",
			ResolveMode: config.ResolveDirect,
			TokenTTL:    time.Hour,
			CatalogTTL:  time.Hour,
		}},
	}

	svc := service.New(cfg, db, nil, buffer.NewBufferPool(0))
	t.Cleanup(svc.Close)
	router := mux.NewRouter()
	setupAdminRoutes(router, svc, db, auth.New(cfg.AdminKeys))
	return router, db
}

func do(router http.Handler, method, target, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresKey(t *testing.T) {
	router, _ := newAdminRouter(t)
	if rec := do(router, "GET", "/api/admin/disabled/delta", "", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec := do(router, "GET", "/api/admin/disabled/delta", "", true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminOverrides(t *testing.T) {
	router, db := newAdminRouter(t)

	rec := do(router, "PUT", "/api/admin/overrides/DELTA/42", `{"name":" TF1 ","logo":"https://logo/tf1.png"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	o, err := db.GetOverride("delta", "42")
	if err != nil || o.Name != "TF1" || o.Logo != "https://logo/tf1.png" {
		t.Fatalf("stored = %+v, %v", o, err)
	}

	rec = do(router, "GET", "/api/admin/overrides/delta", "", true)
	var list []types.Override
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].ChannelID != "42" {
		t.Fatalf("list = %+v", list)
	}

	tests := []struct {
		name, method, target, body string
		want                       int
	}{
		{"empty override", "PUT", "/api/admin/overrides/delta/1", `{}`, http.StatusBadRequest},
		{"bad logo", "PUT", "/api/admin/overrides/delta/1", `{"logo":"ftp://x"}`, http.StatusBadRequest},
		{"unknown field", "PUT", "/api/admin/overrides/delta/1", `{"title":"x"}`, http.StatusBadRequest},
		{"unknown provider", "GET", "/api/admin/overrides/nope", "", http.StatusNotFound},
		{"missing override", "GET", "/api/admin/overrides/delta/7", "", http.StatusNotFound},
		{"delete", "DELETE", "/api/admin/overrides/delta/42", "", http.StatusNoContent},
		{"delete again", "DELETE", "/api/admin/overrides/delta/42", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(router, tt.method, tt.target, tt.body, true); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAdminDisabled(t *testing.T) {
	router, db := newAdminRouter(t)

	if rec := do(router, "POST", "/api/admin/disabled/delta/9", `{"reason":"dead"}`, true); rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d: %s", rec.Code, rec.Body.String())
	}
	if off, _ := db.IsDisabled("delta", "9"); !off {
		t.Fatal("channel not disabled")
	}

	rec := do(router, "GET", "/api/admin/disabled/delta", "", true)
	var list []types.DisabledChannel
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].Reason != "dead" {
		t.Fatalf("list = %+v", list)
	}

	if rec := do(router, "DELETE", "/api/admin/disabled/delta/9", "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if off, _ := db.IsDisabled("delta", "9"); off {
		t.Fatal("channel still disabled")
	}
}

func TestAdminInvalidateProvider(t *testing.T) {
	router, _ := newAdminRouter(t)
	if rec := do(router, "POST", "/api/admin/providers/DELTA/invalidate", "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(router, "POST", "/api/admin/providers/nope/invalidate", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d", rec.Code)
	}
}

func TestAdminSyncRecordsFailure(t *testing.T) {
	router, _ := newAdminRouter(t)

	rec := do(router, "POST", "/api/admin/sync", "", true)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", rec.Code)
	}
	var runs []types.SyncRun
	json.NewDecoder(rec.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].Error == "" {
		t.Fatalf("runs = %+v", runs)
	}

	rec = do(router, "GET", "/api/admin/syncs?provider=delta", "", true)
	var recent []types.SyncRun
	json.NewDecoder(rec.Body).Decode(&recent)
	if len(recent) != 1 || recent[0].ID != runs[0].ID {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestAdminStatsAndVacuum(t *testing.T) {
	router, _ := newAdminRouter(t)

	rec := do(router, "GET", "/api/admin/stats", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats StatsResponse
	json.NewDecoder(rec.Body).Decode(&stats)
	if len(stats.Providers) != 1 || stats.Providers[0].Name != "delta" || stats.Providers[0].TokenValid {
		t.Fatalf("stats = %+v", stats)
	}

	if rec := do(router, "POST", "/api/admin/vacuum", "", true); rec.Code != http.StatusOK {
		t.Fatalf("vacuum status = %d", rec.Code)
	}
}

func TestLogBuffer(t *testing.T) {
	lb := newLogBuffer(2)
	lb.Write([]byte("[DELTATV] 2026/01/02 10:00:00 [WARN] first\n"))
	lb.Write([]byte("[DELTATV] 2026/01/02 10:00:01 [ERROR] second\n"))
	lb.Write([]byte("plain third\n"))

	got := lb.snapshot()
	if len(got) != 2 {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].Level != "error" || got[0].Message != "second" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Level != "info" || got[1].Message != "plain third" {
		t.Errorf("entry 1 = %+v", got[1])
	}

	lb.clear()
	if len(lb.snapshot()) != 0 {
		t.Error("clear left entries")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
