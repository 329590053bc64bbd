package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"mediadup/internal/config"
)

// SettingsData holds data for the settings template
type SettingsData struct {
	Title           string
	ActiveNav       string
	CSRFToken       string
	ScanPaths       string
	Extensions      string
	SkipPatterns    string
	Precision       bool
	Throttle        bool
	RetentionDays   int
	RetentionLocked bool
	Version         string
	DBPath          string
	Error           string
	Success         string
}

// Settings handles GET and POST /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.UpdateSettings(w, r)
		return
	}

	paths, exts, skips, precision, throttle := h.scanDefaults()

	data := SettingsData{
		Title:           "Settings",
		ActiveNav:       "settings",
		CSRFToken:       h.getOrCreateCSRFToken(w, r),
		ScanPaths:       strings.Join(paths, "\n"),
		Extensions:      strings.Join(exts, ", "),
		SkipPatterns:    strings.Join(skips, "\n"),
		Precision:       precision,
		Throttle:        throttle,
		RetentionDays:   h.cfg.RetentionDays,
		RetentionLocked: h.cfg.RetentionDaysFromEnv,
		Version:         h.version,
		DBPath:          h.cfg.DBPath,
		Error:           r.URL.Query().Get("error"),
		Success:         r.URL.Query().Get("success"),
	}

	h.render(w, "settings.html", data)
}

// UpdateSettings handles POST /settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Scan paths must exist and be directories.
	var paths []string
	for _, p := range splitLines(r.FormValue("scan_paths")) {
		p = config.ExpandPath(p)
		info, err := os.Stat(p)
		if err != nil {
			http.Redirect(w, r, "/settings?error=Path does not exist: "+p, http.StatusSeeOther)
			return
		}
		if !info.IsDir() {
			http.Redirect(w, r, "/settings?error=Path is not a directory: "+p, http.StatusSeeOther)
			return
		}
		paths = append(paths, p)
	}

	settings := map[string]string{
		"scan_paths":       strings.Join(paths, "\n"),
		"extensions":       strings.Join(splitCommas(r.FormValue("extensions")), ","),
		"skip_patterns":    strings.Join(splitLines(r.FormValue("skip_patterns")), "\n"),
		"precision":        boolSetting(r.FormValue("precision") == "1"),
		"throttle_enabled": boolSetting(r.FormValue("throttle") == "1"),
	}
	for key, value := range settings {
		if err := h.db.SetSetting(key, value); err != nil {
			http.Redirect(w, r, "/settings?error="+err.Error(), http.StatusSeeOther)
			return
		}
	}

	// Retention is locked while the env var is set.
	if !h.cfg.RetentionDaysFromEnv {
		if v := r.FormValue("retention_days"); v != "" {
			days, err := strconv.Atoi(v)
			if err != nil || days < 1 || days > 365 {
				http.Redirect(w, r, "/settings?error=Retention must be between 1 and 365 days", http.StatusSeeOther)
				return
			}
			if err := h.db.SetSetting("retention_days", strconv.Itoa(days)); err != nil {
				http.Redirect(w, r, "/settings?error="+err.Error(), http.StatusSeeOther)
				return
			}
			h.cfg.RetentionDays = days
		}
	}

	http.Redirect(w, r, "/settings?success=Settings saved", http.StatusSeeOther)
}

func boolSetting(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
