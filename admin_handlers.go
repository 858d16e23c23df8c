package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"deltatv-proxy/work/auth"
	"deltatv-proxy/work/database"
	"deltatv-proxy/work/middleware"
	"deltatv-proxy/work/service"
	"deltatv-proxy/work/types"
	"deltatv-proxy/work/utils"
)

// StatsResponse is the admin overview of the running process
type StatsResponse struct {
	Providers     []ProviderStats  `json:"providers"`
	Uptime        string           `json:"uptime"`
	MemoryUsage   string           `json:"memoryUsage"`
	WorkerThreads int              `json:"workerThreads"`
	RunningTasks  int              `json:"runningTasks"`
	Database      map[string]int64 `json:"database"`
}

// ProviderStats describes one provider's cached state
type ProviderStats struct {
	Name            string    `json:"name"`
	TokenValid      bool      `json:"tokenValid"`
	TokenObtainedAt time.Time `json:"tokenObtainedAt,omitempty"`
	CatalogEntries  int       `json:"catalogEntries"`
	CatalogAge      string    `json:"catalogAge,omitempty"`
}

// LogEntry is one captured log line
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type overrideRequest struct {
	Name string `json:"name"`
	Logo string `json:"logo"`
}

type disableRequest struct {
	Reason string `json:"reason"`
}

var (
	// adminStartTime is the reference for the reported uptime
	adminStartTime = time.Now()

	// adminLog keeps the last 1000 log lines for /api/admin/logs
	adminLog = newLogBuffer(1000)
)

// logBuffer is an io.Writer that keeps the most recent log lines
type logBuffer struct {
	mu      sync.Mutex
	limit   int
	entries []LogEntry
}

func newLogBuffer(limit int) *logBuffer {
	return &logBuffer{limit: limit, entries: make([]LogEntry, 0, limit)}
}

// Write keeps the message after the "[LEVEL] " tag written by the logger
func (lb *logBuffer) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	level := "info"
	for _, l := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if i := strings.Index(line, "["+l+"] "); i >= 0 {
			level = strings.ToLower(l)
			line = line[i+len(l)+3:]
			break
		}
	}

	lb.mu.Lock()
	lb.entries = append(lb.entries, LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   line,
	})
	if len(lb.entries) > lb.limit {
		lb.entries = append(lb.entries[:0:0], lb.entries[len(lb.entries)-lb.limit:]...)
	}
	lb.mu.Unlock()
	return len(p), nil
}

func (lb *logBuffer) snapshot() []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return append([]LogEntry(nil), lb.entries...)
}

func (lb *logBuffer) clear() {
	lb.mu.Lock()
	lb.entries = lb.entries[:0]
	lb.mu.Unlock()
}

var _ io.Writer = (*logBuffer)(nil)

// setupAdminRoutes registers the /api/admin routes behind the admin role
func setupAdminRoutes(router *mux.Router, svc *service.Service, db *database.DB, authn *auth.Authenticator) {
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(authn.Require(auth.RoleAdmin, middleware.WriteError))

	admin.HandleFunc("/sync", handleSync(svc)).Methods("POST")
	admin.HandleFunc("/syncs", middleware.GzipMiddleware(handleGetSyncs(db))).Methods("GET")
	admin.HandleFunc("/stats", middleware.GzipMiddleware(handleGetStats(svc, db))).Methods("GET")
	admin.HandleFunc("/logs", middleware.GzipMiddleware(handleGetLogs)).Methods("GET")
	admin.HandleFunc("/logs", handleClearLogs).Methods("DELETE")
	admin.HandleFunc("/vacuum", handleVacuum(db)).Methods("POST")
	admin.HandleFunc("/providers/{provider}/invalidate", handleInvalidate(svc)).Methods("POST")

	admin.HandleFunc("/overrides/{provider}", middleware.GzipMiddleware(handleListOverrides(svc, db))).Methods("GET")
	admin.HandleFunc("/overrides/{provider}/{id}", handleGetOverride(svc, db)).Methods("GET")
	admin.HandleFunc("/overrides/{provider}/{id}", handleSetOverride(svc, db)).Methods("PUT")
	admin.HandleFunc("/overrides/{provider}/{id}", handleDeleteOverride(svc, db)).Methods("DELETE")

	admin.HandleFunc("/disabled/{provider}", middleware.GzipMiddleware(handleListDisabled(svc, db))).Methods("GET")
	admin.HandleFunc("/disabled/{provider}/{id}", handleDisable(svc, db)).Methods("POST")
	admin.HandleFunc("/disabled/{provider}/{id}", handleEnable(svc, db)).Methods("DELETE")
}

// providerVar resolves the {provider} path segment to the registered name
func providerVar(svc *service.Service, r *http.Request) (string, error) {
	p, err := svc.Provider(mux.Vars(r)["provider"])
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid json body: %v", types.ErrBadRequest, err)
	}
	return nil
}

func handleSync(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs := svc.SyncNow(r.Context())
		status := http.StatusOK
		for _, run := range runs {
			if run.Error != "" {
				status = http.StatusMultiStatus
			}
		}
		middleware.WriteJSON(w, status, runs)
	}
}

// handleInvalidate forces the provider's token and catalog to be fetched again
func handleInvalidate(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.InvalidateProvider(mux.Vars(r)["provider"]); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetSyncs(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := db.RecentSyncs(r.URL.Query().Get("provider"), limit)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if runs == nil {
			runs = []types.SyncRun{}
		}
		middleware.WriteJSON(w, http.StatusOK, runs)
	}
}

// handleGetStats reports token and snapshot state per provider plus process figures
func handleGetStats(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		stats := StatsResponse{
			Uptime:        formatDuration(time.Since(adminStartTime)),
			MemoryUsage:   utils.FormatBytes(int64(m.Alloc)),
			WorkerThreads: svc.Config.WorkerThreads,
		}
		if svc.WorkerPool != nil {
			stats.RunningTasks = svc.WorkerPool.Running()
		}

		for _, name := range svc.ProviderNames() {
			p, err := svc.Provider(name)
			if err != nil {
				continue
			}
			ps := ProviderStats{Name: p.Name}
			if tok, valid := p.Tokens.Peek(); !tok.ObtainedAt.IsZero() {
				ps.TokenValid = valid
				ps.TokenObtainedAt = tok.ObtainedAt
			}
			if snap, ok := p.Catalog.Peek(); ok {
				ps.CatalogEntries = len(snap.Entries)
				ps.CatalogAge = formatDuration(time.Since(snap.FetchedAt))
			}
			stats.Providers = append(stats.Providers, ps)
		}

		dbStats, err := db.GetStats()
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		stats.Database = dbStats

		middleware.WriteJSON(w, http.StatusOK, stats)
	}
}

func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, adminLog.snapshot())
}

func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	adminLog.clear()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func handleVacuum(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Vacuum(); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleListOverrides(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		byID, err := db.GetOverrides(provider)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		list := make([]types.Override, 0, len(byID))
		for _, o := range byID {
			list = append(list, o)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ChannelID < list[j].ChannelID })
		middleware.WriteJSON(w, http.StatusOK, list)
	}
}

func handleGetOverride(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		o, err := db.GetOverride(provider, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, o)
	}
}

func handleSetOverride(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		var req overrideRequest
		if err := decodeBody(r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		req.Name, req.Logo = strings.TrimSpace(req.Name), strings.TrimSpace(req.Logo)
		if req.Name == "" && req.Logo == "" {
			middleware.WriteError(w, r, fmt.Errorf("%w: name or logo is required", types.ErrBadRequest))
			return
		}
		if req.Logo != "" && !utils.IsHTTPURL(req.Logo) {
			middleware.WriteError(w, r, fmt.Errorf("%w: logo must be an http url", types.ErrBadRequest))
			return
		}

		o, err := db.SetOverride(types.Override{
			Provider:  provider,
			ChannelID: mux.Vars(r)["id"],
			Name:      req.Name,
			Logo:      req.Logo,
		})
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		svc.InvalidateViews()
		middleware.WriteJSON(w, http.StatusOK, o)
	}
}

func handleDeleteOverride(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if err := db.DeleteOverride(provider, mux.Vars(r)["id"]); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		svc.InvalidateViews()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListDisabled(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		list, err := db.ListDisabled(provider)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if list == nil {
			list = []types.DisabledChannel{}
		}
		middleware.WriteJSON(w, http.StatusOK, list)
	}
}

func handleDisable(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		var req disableRequest
		if err := decodeBody(r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		d, err := db.DisableChannel(provider, mux.Vars(r)["id"], strings.TrimSpace(req.Reason))
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		svc.InvalidateViews()
		middleware.WriteJSON(w, http.StatusCreated, d)
	}
}

func handleEnable(svc *service.Service, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerVar(svc, r)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if err := db.EnableChannel(provider, mux.Vars(r)["id"]); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		svc.InvalidateViews()
		w.WriteHeader(http.StatusNoContent)
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
