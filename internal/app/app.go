// Package app provides shared application initialization logic used by both
// the server and desktop entry points.
package app

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"mediadup/internal/config"
	"mediadup/internal/db"
	"mediadup/internal/handlers"
	"mediadup/internal/scheduler"
	"mediadup/internal/services"
)

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// Version string for display.
	Version string

	// WebFS is the embedded filesystem containing web assets.
	WebFS embed.FS

	// BindAddress is the address to bind to. Defaults to "" (all interfaces).
	// Use "127.0.0.1" for desktop mode to only allow local connections.
	BindAddress string

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections and CSRF isn't a concern.
	DisableCSRF bool
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Database  *db.DB
	Scanner   *services.Scanner
	Scheduler *scheduler.Scheduler

	lock *flock.Flock
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	appCfg := config.Load()

	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}

	slog.Info("starting", "db", appCfg.DBPath, "port", appCfg.Port)

	if err := os.MkdirAll(appCfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// A second instance against the same data dir would fight over the
	// database and double-run scheduled jobs.
	lock := flock.New(filepath.Join(appCfg.DataDir, "mediadup.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance is already using %s", appCfg.DataDir)
	}

	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Load retention from DB if not set via env var
	if !appCfg.RetentionDaysFromEnv {
		if val, err := database.GetSetting("retention_days"); err == nil && val != "" {
			if days, err := strconv.Atoi(val); err == nil && days >= 1 && days <= 365 {
				appCfg.RetentionDays = days
			}
		}
	}
	slog.Info("retention", "days", appCfg.RetentionDays)

	scanner := services.NewScanner(database, appCfg.ScanTimeout)

	sched := scheduler.New(database, scanner)
	sched.Start()

	h, err := handlers.New(database, appCfg, scanner, sched, cfg.WebFS, cfg.Version, cfg.DisableCSRF)
	if err != nil {
		sched.Stop()
		database.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	h.StartCSRFCleanup()

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, appCfg.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    appCfg,
		Database:  database,
		Scanner:   scanner,
		Scheduler: sched,
		lock:      lock,
	}, nil
}

// Cleanup releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Database != nil {
		s.Database.Close()
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
}

// StartCleanupLoop starts a background goroutine that periodically cleans up
// old data. Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				slog.Info("running cleanup", "retention_days", s.Config.RetentionDays)
				if err := s.Database.CleanupOldData(s.Config.RetentionDays); err != nil {
					slog.Error("cleanup failed", "error", err)
				}
			}
		}
	}()

	return cleanupCancel, cleanupDone
}
