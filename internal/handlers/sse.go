package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"mediadup/internal/db"
	"mediadup/internal/types"
)

// ScanProgressData is sent via SSE during scans
type ScanProgressData struct {
	Stage      int    `json:"stage"`
	Stages     int    `json:"stages"`
	Done       int64  `json:"done"`
	Total      int64  `json:"total"`
	Label      string `json:"label"`
	Percent    int    `json:"percent"`
	FilesFound int64  `json:"files_found"`
	Failures   int    `json:"failures"`
	Status     string `json:"status"`
}

// ScanProgressSSE handles SSE connections for scan progress
func (h *Handler) ScanProgressSSE(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 {
		http.NotFound(w, r)
		return
	}

	runID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe to updates
	updates := h.scanner.Subscribe(runID)
	defer h.scanner.Unsubscribe(runID, updates)

	// Send initial state
	run, err := h.db.GetScanRun(runID)
	if err == nil {
		h.sendScanProgress(w, flusher, &types.ScanProgress{
			FilesFound: run.FilesFound,
			Failures:   int(run.FailureCount),
			Status:     string(run.Status),
		})
		if run.Status != db.ScanRunStatusRunning {
			h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"status":%q}`, run.Status))
			return
		}
	}

	// Listen for updates
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Channel closed without a terminal event: the run ended;
				// let the client re-fetch the final state.
				h.sendEvent(w, flusher, "complete", `{"status":"completed"}`)
				return
			}
			h.sendScanProgress(w, flusher, update)
			if update.Status != "running" {
				h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"status":%q}`, update.Status))
				return
			}
		}
	}
}

func (h *Handler) sendScanProgress(w http.ResponseWriter, flusher http.Flusher, progress *types.ScanProgress) {
	data := ScanProgressData{
		Stage:      progress.Stage,
		Stages:     progress.Stages,
		Done:       progress.Done,
		Total:      progress.Total,
		Label:      progress.Label,
		Percent:    percent(progress.Fraction),
		FilesFound: progress.FilesFound,
		Failures:   progress.Failures,
		Status:     progress.Status,
	}

	jsonData, _ := json.Marshal(data)
	h.sendEvent(w, flusher, "progress", string(jsonData))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
