package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"mediadup/internal/db"
	"mediadup/internal/scan"
	"mediadup/internal/services"
)

// ScanFormData holds data for the scan form template
type ScanFormData struct {
	Title        string
	ActiveNav    string
	CSRFToken    string
	Paths        []string
	Extensions   string
	SkipPatterns []string
	Precision    bool
	Throttle     bool
	Error        string
}

// ScanResultsData holds data for the scan results template
type ScanResultsData struct {
	Title       string
	ActiveNav   string
	CSRFToken   string
	Run         *db.ScanRun
	Groups      []*db.DuplicateGroup
	Annotations map[string]db.Disposition
	Running     bool
	Paused      bool
	Finished    bool
}

// Scans handles GET /scans (the scan form) and POST /scans (start a scan).
func (h *Handler) Scans(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.StartScan(w, r)
		return
	}

	paths, exts, skips, precision, throttle := h.scanDefaults()

	data := ScanFormData{
		Title:        "New Scan",
		ActiveNav:    "scans",
		CSRFToken:    h.getOrCreateCSRFToken(w, r),
		Paths:        paths,
		Extensions:   strings.Join(exts, ", "),
		SkipPatterns: skips,
		Precision:    precision,
		Throttle:     throttle,
		Error:        r.URL.Query().Get("error"),
	}

	h.render(w, "scan_form.html", data)
}

// StartScan handles POST /scans
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	paths := splitLines(r.FormValue("paths"))
	if len(paths) == 0 {
		http.Redirect(w, r, "/scans?error=At least one folder is required", http.StatusSeeOther)
		return
	}

	exts := splitCommas(r.FormValue("extensions"))
	skips := splitLines(r.FormValue("skip_patterns"))
	if len(exts) == 0 || len(skips) == 0 {
		_, defExts, defSkips, _, _ := h.scanDefaults()
		if len(exts) == 0 {
			exts = defExts
		}
		if len(skips) == 0 {
			skips = defSkips
		}
	}

	throttle := scan.DefaultThrottle
	throttle.Enabled = r.FormValue("throttle") == "1"

	cfg := &services.ScanConfig{
		Paths:        paths,
		Extensions:   exts,
		SkipPatterns: skips,
		Precision:    r.FormValue("precision") == "1",
		Throttle:     throttle,
	}

	run, err := h.scanner.StartScan(r.Context(), cfg, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(run.ID, 10), http.StatusSeeOther)
}

// ScanRunRoutes handles routes under /scans/runs/{id}
func (h *Handler) ScanRunRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) >= 5 && parts[4] != "" {
		switch parts[4] {
		case "pause":
			if r.Method == http.MethodPost {
				h.PauseScan(w, r, id)
				return
			}
		case "resume":
			if r.Method == http.MethodPost {
				h.ResumeScan(w, r, id)
				return
			}
		case "cancel":
			if r.Method == http.MethodPost {
				h.CancelScan(w, r, id)
				return
			}
		case "annotate":
			if r.Method == http.MethodPost {
				h.Annotate(w, r, id)
				return
			}
		case "delete-file":
			if r.Method == http.MethodPost {
				h.DeleteFile(w, r, id)
				return
			}
		case "ignore-folder":
			if r.Method == http.MethodPost {
				h.IgnoreFolder(w, r, id)
				return
			}
		case "open":
			if r.Method == http.MethodPost {
				h.OpenPath(w, r, id)
				return
			}
		case "export":
			h.ExportCSV(w, r, id)
			return
		}
		http.NotFound(w, r)
		return
	}

	h.ScanResults(w, r, id)
}

// ScanResults handles GET /scans/runs/{id}
func (h *Handler) ScanResults(w http.ResponseWriter, r *http.Request, id int64) {
	run, err := h.db.GetScanRun(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	groups, err := h.db.ListDuplicateGroups(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Skip-listed folders are hidden from review, matching the walker's
	// pruning on the next scan.
	_, _, skips, _, _ := h.scanDefaults()
	groups = visibleGroups(groups, skips)

	annotations, err := h.db.GetAnnotations(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := ScanResultsData{
		Title:       "Scan Results",
		ActiveNav:   "scans",
		CSRFToken:   h.getOrCreateCSRFToken(w, r),
		Run:         run,
		Groups:      groups,
		Annotations: annotations,
		Running:     run.Status == db.ScanRunStatusRunning,
		Paused:      run.Status == db.ScanRunStatusPaused,
		Finished:    run.CompletedAt != nil,
	}

	h.render(w, "scan_results.html", data)
}

// PauseScan handles POST /scans/runs/{id}/pause
func (h *Handler) PauseScan(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := h.scanner.PauseScan(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(id, 10), http.StatusSeeOther)
}

// ResumeScan handles POST /scans/runs/{id}/resume
func (h *Handler) ResumeScan(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if _, err := h.scanner.ResumeScan(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(id, 10), http.StatusSeeOther)
}

// CancelScan handles POST /scans/runs/{id}/cancel
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	h.scanner.CancelScan(id)
	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(id, 10), http.StatusSeeOther)
}

// scanDefaults returns the scan form defaults: DB-stored settings override
// the config file.
func (h *Handler) scanDefaults() (paths, exts, skips []string, precision, throttle bool) {
	paths = h.cfg.ScanPaths
	exts = h.cfg.Extensions
	skips = h.cfg.SkipPatterns
	precision = h.cfg.Precision
	throttle = h.cfg.Throttle.Enabled

	if v, err := h.db.GetSetting("scan_paths"); err == nil && v != "" {
		paths = splitLines(v)
	}
	if v, err := h.db.GetSetting("extensions"); err == nil && v != "" {
		exts = splitCommas(v)
	}
	if v, err := h.db.GetSetting("skip_patterns"); err == nil && v != "" {
		skips = splitLines(v)
	}
	if v, err := h.db.GetSetting("precision"); err == nil && v != "" {
		precision = v == "1"
	}
	if v, err := h.db.GetSetting("throttle_enabled"); err == nil && v != "" {
		throttle = v == "1"
	}
	return paths, exts, skips, precision, throttle
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitCommas(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
