package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"mediadup/internal/db"
	"mediadup/internal/scan"
)

// Annotate handles POST /scans/runs/{id}/annotate: sets a file's review
// disposition (keep/delete/move/review).
func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request, runID int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := r.FormValue("path")
	disposition := r.FormValue("disposition")
	if path == "" || !db.ValidDisposition(disposition) {
		http.Error(w, "Invalid annotation", http.StatusBadRequest)
		return
	}

	if err := h.db.SetAnnotation(runID, path, db.Disposition(disposition)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// HTMX swaps the disposition cell in place.
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<span class="disposition disposition-%s">%s</span>`, disposition, disposition)
		return
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(runID, 10), http.StatusSeeOther)
}

// ExportCSV handles GET /scans/runs/{id}/export: the review sheet for a run,
// one row per duplicate file.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request, runID int64) {
	run, err := h.db.GetScanRun(runID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	groups, err := h.db.ListDuplicateGroups(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	annotations, err := h.db.GetAnnotations(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="duplicates_%s.csv"`, run.Token))

	cw := csv.NewWriter(w)
	cw.Write([]string{"file_name", "full_path", "size (bytes)", "file_type", "checksum", "disposition"})
	for _, g := range groups {
		for _, path := range g.Files {
			disposition := string(annotations[path])
			if disposition == "" {
				disposition = string(db.DispositionNone)
			}
			cw.Write([]string{
				filepath.Base(path),
				path,
				strconv.FormatInt(g.FileSize, 10),
				strings.TrimPrefix(filepath.Ext(path), "."),
				g.Digest,
				disposition,
			})
		}
	}
	cw.Flush()
}

// DeleteFile handles POST /scans/runs/{id}/delete-file
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request, runID int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := r.FormValue("path")
	if path == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}

	if err := h.scanner.DeleteFile(runID, path); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(runID, 10), http.StatusSeeOther)
}

// IgnoreFolder handles POST /scans/runs/{id}/ignore-folder: appends the
// file's folder to the stored skip patterns. Future scans prune the folder
// and the results page hides its rows.
func (h *Handler) IgnoreFolder(w http.ResponseWriter, r *http.Request, runID int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := r.FormValue("path")
	if !h.pathInRun(runID, path) {
		http.Error(w, "Unknown path for this scan", http.StatusForbidden)
		return
	}

	_, _, skips, _, _ := h.scanDefaults()
	skips = appendSkipFolder(skips, filepath.Dir(path))
	if err := h.db.SetSetting("skip_patterns", strings.Join(skips, "\n")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(runID, 10), http.StatusSeeOther)
}

// appendSkipFolder adds dir to the skip list unless an existing pattern
// already covers it.
func appendSkipFolder(skips []string, dir string) []string {
	if scan.MatchesSkip(dir, skips) {
		return skips
	}
	return append(skips, dir)
}

// visibleGroups filters skip-listed folders out of the review table: files
// whose folder matches a skip pattern are hidden, and groups left with fewer
// than two visible members disappear entirely. Stored groups are untouched.
func visibleGroups(groups []*db.DuplicateGroup, skips []string) []*db.DuplicateGroup {
	var out []*db.DuplicateGroup
	for _, g := range groups {
		var files []string
		for _, f := range g.Files {
			if scan.MatchesSkip(filepath.Dir(f), skips) {
				continue
			}
			files = append(files, f)
		}
		if len(files) < 2 {
			continue
		}
		if len(files) == len(g.Files) {
			out = append(out, g)
			continue
		}
		out = append(out, &db.DuplicateGroup{
			ID:          g.ID,
			ScanRunID:   g.ScanRunID,
			Digest:      g.Digest,
			FileSize:    g.FileSize,
			FileCount:   len(files),
			WastedBytes: g.FileSize * int64(len(files)-1),
			Files:       files,
		})
	}
	return out
}

// OpenPath handles POST /scans/runs/{id}/open: opens a file, or reveals it
// in its containing folder, in the OS file manager. Only paths that belong
// to one of the run's duplicate groups may be opened.
func (h *Handler) OpenPath(w http.ResponseWriter, r *http.Request, runID int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := r.FormValue("path")
	target := r.FormValue("target") // "file" or "folder"

	if !h.pathInRun(runID, path) {
		http.Error(w, "Unknown path for this scan", http.StatusForbidden)
		return
	}

	var err error
	if target == "folder" {
		err = revealInFileManager(path)
	} else {
		err = openInFileManager(path)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(runID, 10), http.StatusSeeOther)
}

// pathInRun reports whether path is a member of any stored group of the run.
func (h *Handler) pathInRun(runID int64, path string) bool {
	if path == "" {
		return false
	}
	groups, err := h.db.ListDuplicateGroups(runID)
	if err != nil {
		return false
	}
	for _, g := range groups {
		for _, f := range g.Files {
			if f == path {
				return true
			}
		}
	}
	return false
}

func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

// revealInFileManager opens the file manager with the file selected where
// the platform supports it; elsewhere it opens the parent folder.
func revealInFileManager(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-R", path)
	case "windows":
		cmd = exec.Command("explorer", "/select,", path)
	default:
		cmd = exec.Command("xdg-open", filepath.Dir(path))
	}
	return cmd.Start()
}
