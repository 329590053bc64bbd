// Package handlers contains the HTTP handlers for the web UI.
package handlers

import (
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mediadup/internal/config"
	"mediadup/internal/db"
	"mediadup/internal/scheduler"
	"mediadup/internal/services"
)

// Handler holds all HTTP handlers
type Handler struct {
	db          *db.DB
	cfg         *config.Config
	scanner     *services.Scanner
	scheduler   *scheduler.Scheduler
	webFS       fs.FS
	staticFS    fs.FS
	funcMap     template.FuncMap
	csrf        *csrfManager
	version     string
	disableCSRF bool
}

// New creates a new Handler
func New(database *db.DB, cfg *config.Config, scanner *services.Scanner, sched *scheduler.Scheduler, webFS fs.FS, version string, disableCSRF bool) (*Handler, error) {
	funcMap := template.FuncMap{
		"formatBytes":    formatBytes,
		"formatTime":     formatTime,
		"truncateDigest": truncateDigest,
		"joinList":       joinList,
		"formatDuration": formatDuration,
		"percent":        percent,
	}

	staticFS, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, err
	}

	return &Handler{
		db:          database,
		cfg:         cfg,
		scanner:     scanner,
		scheduler:   sched,
		webFS:       webFS,
		staticFS:    staticFS,
		funcMap:     funcMap,
		csrf:        newCSRFManager(),
		version:     version,
		disableCSRF: disableCSRF,
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	// Dashboard
	mux.HandleFunc("/", h.Dashboard)

	// Scans
	mux.HandleFunc("/scans", h.Scans)
	mux.HandleFunc("/scans/runs/", h.ScanRunRoutes)

	// Jobs
	mux.HandleFunc("/jobs", h.Jobs)
	mux.HandleFunc("/jobs/new", h.JobForm)
	mux.HandleFunc("/jobs/", h.JobRoutes)

	// History
	mux.HandleFunc("/history", h.History)

	// Settings
	mux.HandleFunc("/settings", h.Settings)

	// SSE
	mux.HandleFunc("/sse/scan/", h.ScanProgressSSE)
}

// render executes a page template with the base layout
func (h *Handler) render(w http.ResponseWriter, pageName string, data any) {
	tmpl, err := template.New("base.html").Funcs(h.funcMap).ParseFS(h.webFS, "templates/base.html", "templates/"+pageName)
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Template functions

func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

func truncateDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12] + "..."
	}
	return digest
}

func joinList(items []string) string {
	return strings.Join(items, ", ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return humanize.Comma(int64(d.Seconds())) + "s"
	}
	if d < time.Hour {
		m := int64(d.Minutes())
		s := int64(d.Seconds()) % 60
		return humanize.Comma(m) + "m " + humanize.Comma(s) + "s"
	}
	hrs := int64(d.Hours())
	m := int64(d.Minutes()) % 60
	return humanize.Comma(hrs) + "h " + humanize.Comma(m) + "m"
}

func percent(f float64) int {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 100
	}
	return int(f * 100)
}
