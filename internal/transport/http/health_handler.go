package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licsvc/internal/licensing"
)

// Pinger reports directory reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler exposes liveness and health detail endpoints.
type HealthHandler struct {
	directory Pinger
	records   *licensing.RecordCache
	sessions  *licensing.SessionCache
	blacklist *licensing.Blacklist
	startedAt time.Time
	version   string
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(directory Pinger, records *licensing.RecordCache, sessions *licensing.SessionCache, blacklist *licensing.Blacklist, version string) *HealthHandler {
	return &HealthHandler{
		directory: directory,
		records:   records,
		sessions:  sessions,
		blacklist: blacklist,
		startedAt: time.Now(),
		version:   version,
	}
}

// HealthDetail is the detailed health report.
type HealthDetail struct {
	Status          string                     `json:"status"`
	Version         string                     `json:"version"`
	UptimeSeconds   float64                    `json:"uptime_seconds"`
	DirectoryStatus string                     `json:"directory_status"`
	RecordCache     licensing.RecordCacheStats `json:"record_cache"`
	SessionEntries  int                        `json:"session_entries"`
	RevokedTokens   int                        `json:"revoked_tokens"`
	Timestamp       time.Time                  `json:"timestamp"`
}

// Routes returns the chi router for health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Liveness)
	r.Get("/detail", h.Detail)
	return r
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Detail handles GET /healthz/detail. A directory outage degrades the
// report, not the status code: cached clients keep working, so the process
// is still serving.
func (h *HealthHandler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	directoryStatus := "reachable"
	status := "ok"
	if err := h.directory.Ping(ctx); err != nil {
		directoryStatus = "unreachable"
		status = "degraded"
	}

	render.JSON(w, r, HealthDetail{
		Status:          status,
		Version:         h.version,
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
		DirectoryStatus: directoryStatus,
		RecordCache:     h.records.Stats(),
		SessionEntries:  h.sessions.Len(),
		RevokedTokens:   h.blacklist.Len(),
		Timestamp:       time.Now().UTC(),
	})
}
