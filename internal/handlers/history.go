package handlers

import (
	"net/http"
	"strconv"

	"mediadup/internal/db"
)

// HistoryData holds data for the history template
type HistoryData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Runs      []*ScanRunHistoryView
	Deletions []*db.Deletion
	Page      int
	HasMore   bool
	NextPage  int
}

// ScanRunHistoryView extends ScanRun with duration
type ScanRunHistoryView struct {
	*db.ScanRun
	Duration  string
	Resumable bool
}

// History handles GET /history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	limit := 20
	offset := (page - 1) * limit

	runs, err := h.db.ListScanRuns(limit+1, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}

	var runViews []*ScanRunHistoryView
	for _, run := range runs {
		view := &ScanRunHistoryView{
			ScanRun:   run,
			Resumable: run.Status == db.ScanRunStatusPaused && run.SessionState != nil,
		}
		if run.CompletedAt != nil {
			view.Duration = formatDuration(run.CompletedAt.Sub(run.StartedAt))
		} else if run.Status == db.ScanRunStatusRunning {
			view.Duration = "Running..."
		} else if run.Status == db.ScanRunStatusPaused {
			view.Duration = "Paused"
		} else {
			view.Duration = "-"
		}
		runViews = append(runViews, view)
	}

	deletions, err := h.db.ListDeletions(10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := HistoryData{
		Title:     "History",
		ActiveNav: "history",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Runs:      runViews,
		Deletions: deletions,
		Page:      page,
		HasMore:   hasMore,
		NextPage:  page + 1,
	}

	h.render(w, "history.html", data)
}
