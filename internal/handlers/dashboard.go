package handlers

import (
	"net/http"

	"mediadup/internal/db"
)

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title       string
	ActiveNav   string
	RecentScans []*ScanRunView
	Jobs        []*JobView
	Stats       DashboardStats
}

// DashboardStats summarizes the latest completed run.
type DashboardStats struct {
	LastWastedBytes int64
	LastGroupCount  int64
	TotalDeletions  int
}

// ScanRunView is a compact run row for the dashboard.
type ScanRunView struct {
	ID              int64
	Status          string
	StartedAt       string
	DuplicateGroups int64
	WastedBytes     int64
}

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := h.db.GetRecentScanRuns(5)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	deletions, err := h.db.ListDeletions(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := DashboardData{
		Title:     "",
		ActiveNav: "dashboard",
		Stats:     DashboardStats{TotalDeletions: len(deletions)},
	}

	for _, run := range runs {
		if run.Status == db.ScanRunStatusCompleted && data.Stats.LastGroupCount == 0 {
			data.Stats.LastWastedBytes = run.WastedBytes
			data.Stats.LastGroupCount = run.DuplicateGroups
		}
		data.RecentScans = append(data.RecentScans, &ScanRunView{
			ID:              run.ID,
			Status:          string(run.Status),
			StartedAt:       run.StartedAt.Format("2006-01-02 15:04"),
			DuplicateGroups: run.DuplicateGroups,
			WastedBytes:     run.WastedBytes,
		})
	}

	for _, job := range jobs {
		data.Jobs = append(data.Jobs, toJobView(job))
	}

	h.render(w, "dashboard.html", data)
}
