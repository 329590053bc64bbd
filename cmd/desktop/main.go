package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"mediadup/internal/app"
	"mediadup/internal/webfs"
)

// Version info - injected at build time via ldflags
var version = "dev"

func main() {
	// Set desktop-specific defaults before loading config
	setDesktopDefaults()

	// Find available port for internal server
	port, err := findAvailablePort()
	if err != nil {
		slog.Error("failed to find available port", "error", err)
		os.Exit(1)
	}

	// Create the internal HTTP server
	server, err := app.CreateServer(app.ServerConfig{
		Port:        port,
		Version:     version,
		WebFS:       webfs.FS,
		BindAddress: "127.0.0.1", // Only local connections
		DisableCSRF: true,        // CSRF not needed for desktop app
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start cleanup loop
	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// Create reverse proxy to internal server
	targetURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	err = wails.Run(&options.App{
		Title:     "Mediadup",
		Width:     1200,
		Height:    800,
		MinWidth:  800,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Handler: proxy,
		},
		OnStartup: func(ctx context.Context) {
			// Start HTTP server in background
			go func() {
				slog.Info("internal server listening", "port", port)
				if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
					slog.Error("http server error", "error", err)
				}
			}()
		},
		OnShutdown: func(ctx context.Context) {
			slog.Info("shutting down")
			server.HTTP.Shutdown(context.Background())
			cleanupCancel()
			<-cleanupDone
			server.Cleanup()
			slog.Info("shutdown complete")
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: false,
			},
			About: &mac.AboutInfo{
				Title:   "Mediadup",
				Message: fmt.Sprintf("Duplicate Media Finder\n\nVersion: %s", buildVersionString()),
			},
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
		},
	})

	if err != nil {
		slog.Error("wails error", "error", err)
		os.Exit(1)
	}
}

// findAvailablePort finds an available TCP port on localhost.
func findAvailablePort() (int, error) {
	// Try preferred port first
	preferredPort := 18080
	if isPortAvailable(preferredPort) {
		return preferredPort, nil
	}

	// Otherwise find any available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// isPortAvailable checks if a port is available on localhost.
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// setDesktopDefaults sets environment variables for desktop-appropriate
// defaults if they're not already set.
func setDesktopDefaults() {
	dataDir := getAppDataDir()
	if os.Getenv("MEDIADUP_DATA_DIR") == "" {
		os.Setenv("MEDIADUP_DATA_DIR", dataDir)
	}
	if os.Getenv("MEDIADUP_DB_PATH") == "" {
		os.Setenv("MEDIADUP_DB_PATH", filepath.Join(dataDir, "mediadup.db"))
	}
}

// getAppDataDir returns the platform-appropriate application data directory.
func getAppDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Mediadup")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Mediadup")
	default: // Linux and others
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "mediadup")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "mediadup")
	}
}

// buildVersionString creates a display version string.
func buildVersionString() string {
	if version == "dev" {
		return "Development"
	}
	return version
}
