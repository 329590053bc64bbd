// Package services orchestrates scan runs: background execution, progress
// fan-out to SSE subscribers, pause/resume snapshots, and file deletion.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mediadup/internal/config"
	"mediadup/internal/db"
	"mediadup/internal/scan"
	"mediadup/internal/types"
)

var (
	// ErrScanNotActive is returned when pausing or cancelling a run that is
	// not currently executing.
	ErrScanNotActive = errors.New("scan not active")
	// ErrScanNotPaused is returned when resuming a run with no snapshot.
	ErrScanNotPaused = errors.New("scan is not paused")
	// ErrScanAlreadyRunning is returned when resuming a run that is active.
	ErrScanAlreadyRunning = errors.New("scan already running")
)

// ScanConfig holds the parameters for one scan run.
type ScanConfig struct {
	Paths        []string            `json:"paths"`
	Extensions   []string            `json:"extensions"`
	SkipPatterns []string            `json:"skip_patterns"`
	Precision    bool                `json:"precision"`
	Throttle     scan.ThrottlePolicy `json:"throttle"`
	ChunkSize    int64               `json:"chunk_size,omitempty"`
}

// sessionSnapshot is the JSON persisted on a paused run so pause survives a
// restart. Frontier is set while enumeration is incomplete; Pipeline once
// hashing has begun.
type sessionSnapshot struct {
	Config     ScanConfig     `json:"config"`
	Frontier   *scan.Frontier `json:"frontier,omitempty"`
	Pipeline   *scan.Session  `json:"pipeline,omitempty"`
	FilesFound int64          `json:"files_found"`
	DirErrors  int            `json:"dir_errors"`
}

// subscriber wraps a channel with safe close handling
type subscriber struct {
	ch        chan *types.ScanProgress
	closeOnce sync.Once
	closed    bool
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		sub.closed = true
		close(sub.ch)
	})
}

func (sub *subscriber) send(progress *types.ScanProgress) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- progress:
		return true
	default:
		return false
	}
}

// activeScan is the in-process handle on a running scan. The pause flag is
// polled cooperatively by the walker and the hashing pool.
type activeScan struct {
	cancel context.CancelFunc
	pause  atomic.Bool
}

// Scanner orchestrates scan operations
type Scanner struct {
	db          *db.DB
	scanTimeout time.Duration

	mu          sync.RWMutex
	activeScans map[int64]*activeScan

	// SSE subscribers
	subMu       sync.RWMutex
	subscribers map[int64][]*subscriber
}

// NewScanner creates a new scanner service
func NewScanner(database *db.DB, scanTimeout time.Duration) *Scanner {
	return &Scanner{
		db:          database,
		scanTimeout: scanTimeout,
		activeScans: make(map[int64]*activeScan),
		subscribers: make(map[int64][]*subscriber),
	}
}

// Subscribe subscribes to progress updates for a scan
func (s *Scanner) Subscribe(runID int64) chan *types.ScanProgress {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{
		ch: make(chan *types.ScanProgress, 10),
	}
	s.subscribers[runID] = append(s.subscribers[runID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber
func (s *Scanner) Unsubscribe(runID int64, ch chan *types.ScanProgress) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub.ch == ch {
			// Remove from slice first, then close safely
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

// broadcast sends progress to all subscribers
func (s *Scanner) broadcast(runID int64, progress *types.ScanProgress) {
	s.subMu.RLock()
	// Copy the slice to avoid holding the lock during send
	subs := make([]*subscriber, len(s.subscribers[runID]))
	copy(subs, s.subscribers[runID])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(progress)
	}
}

// closeSubscribers closes all subscriber channels for a scan
func (s *Scanner) closeSubscribers(runID int64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[runID] {
		sub.close()
	}
	delete(s.subscribers, runID)
}

// StartScan creates a scan run and executes it in the background.
func (s *Scanner) StartScan(ctx context.Context, cfg *ScanConfig, jobID *int64) (*db.ScanRun, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("no scan paths configured")
	}

	run, err := s.db.CreateScanRun(uuid.NewString(), jobID, cfg.Paths, cfg.Precision)
	if err != nil {
		return nil, err
	}

	// The run outlives the request; it is cancelled manually or by timeout.
	scanCtx, cancel := context.WithTimeout(context.Background(), s.scanTimeout)

	active := &activeScan{cancel: cancel}
	s.mu.Lock()
	s.activeScans[run.ID] = active
	s.mu.Unlock()

	go s.runScan(scanCtx, run.ID, active, &sessionSnapshot{Config: *cfg})

	return run, nil
}

// PauseScan requests a cooperative pause of an active scan. The run persists
// its snapshot and flips to paused once in-flight work drains.
func (s *Scanner) PauseScan(runID int64) error {
	s.mu.RLock()
	active, ok := s.activeScans[runID]
	s.mu.RUnlock()

	if !ok {
		return ErrScanNotActive
	}
	active.pause.Store(true)
	return nil
}

// ResumeScan continues a paused run from its stored snapshot.
func (s *Scanner) ResumeScan(runID int64) (*db.ScanRun, error) {
	run, err := s.db.GetScanRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != db.ScanRunStatusPaused || run.SessionState == nil {
		return nil, ErrScanNotPaused
	}

	var snap sessionSnapshot
	if err := json.Unmarshal([]byte(*run.SessionState), &snap); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(context.Background(), s.scanTimeout)
	active := &activeScan{cancel: cancel}

	s.mu.Lock()
	if _, exists := s.activeScans[runID]; exists {
		s.mu.Unlock()
		cancel()
		return nil, ErrScanAlreadyRunning
	}
	s.activeScans[runID] = active
	s.mu.Unlock()

	if err := s.db.ResumeScanRun(runID); err != nil {
		s.mu.Lock()
		delete(s.activeScans, runID)
		s.mu.Unlock()
		cancel()
		return nil, err
	}

	go s.runScan(scanCtx, runID, active, &snap)
	return run, nil
}

// CancelScan cancels an active scan. The queue is dropped; in-flight hashes
// drain and the run finalizes as cancelled.
func (s *Scanner) CancelScan(runID int64) {
	s.mu.RLock()
	active, ok := s.activeScans[runID]
	s.mu.RUnlock()

	if ok {
		active.cancel()
	}
}

// IsActive reports whether a run is currently executing in this process.
func (s *Scanner) IsActive(runID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activeScans[runID]
	return ok
}

// runScan executes (or resumes) the walk and the hashing pipeline.
func (s *Scanner) runScan(ctx context.Context, runID int64, active *activeScan, snap *sessionSnapshot) {
	defer func() {
		// Release the timeout context; a resumed run gets a fresh one.
		active.cancel()
		s.mu.Lock()
		delete(s.activeScans, runID)
		s.mu.Unlock()
		s.closeSubscribers(runID)
	}()

	pause := func() bool { return active.pause.Load() }
	cfg := snap.Config

	// One synthetic stage for enumeration in front of the pipeline stages.
	pipelineStages := 2
	if cfg.Precision {
		pipelineStages = 3
	}
	stages := pipelineStages + 1

	if snap.Pipeline == nil {
		walker := &scan.Walker{
			Roots:        expandPaths(cfg.Paths),
			Extensions:   cfg.Extensions,
			SkipPatterns: cfg.SkipPatterns,
			Pause:        pause,
			Progress: func(p scan.Progress) {
				s.broadcast(runID, &types.ScanProgress{
					Stage:    0,
					Stages:   stages,
					Done:     p.Done,
					Total:    p.Total,
					Label:    p.Label,
					Fraction: overallFraction(0, stages, p),
					Status:   "running",
				})
			},
		}

		var (
			result *scan.WalkResult
			err    error
		)
		if snap.Frontier != nil {
			result, err = walker.Resume(ctx, snap.Frontier)
		} else {
			result, err = walker.Enumerate(ctx)
		}
		if err != nil {
			s.finishWithError(runID, err)
			return
		}
		if !result.Complete {
			snap.Frontier = result.Frontier
			snap.FilesFound = int64(len(result.Frontier.Found))
			s.persistPause(runID, snap)
			return
		}

		paths := make([]string, 0, len(result.Candidates))
		for _, c := range result.Candidates {
			paths = append(paths, c.Path)
		}
		snap.Frontier = nil
		snap.FilesFound = int64(len(paths))
		snap.DirErrors = result.DirErrors
		snap.Pipeline = scan.NewSession(paths, cfg.Precision)

		if err := s.db.UpdateScanRunProgress(runID, snap.FilesFound, 0, 0, 0, int64(snap.DirErrors)); err != nil {
			slog.Error("update scan progress", slog.Int64("run_id", runID), slog.Any("error", err))
		}
		slog.Info("enumeration complete",
			slog.Int64("run_id", runID),
			slog.Int64("files_found", snap.FilesFound),
			slog.Int("dir_errors", snap.DirErrors))
	}

	coordinator := &scan.Coordinator{
		Throttle:  cfg.Throttle,
		ChunkSize: cfg.ChunkSize,
		Pause:     pause,
		Progress: func(p scan.Progress) {
			s.broadcast(runID, &types.ScanProgress{
				Stage:      p.Stage + 1,
				Stages:     stages,
				Done:       p.Done,
				Total:      p.Total,
				Label:      p.Label,
				Fraction:   overallFraction(p.Stage+1, stages, p),
				FilesFound: snap.FilesFound,
				Failures:   len(snap.Pipeline.Failures) + snap.DirErrors,
				Status:     "running",
			})
		},
	}

	result, err := coordinator.Run(ctx, snap.Pipeline)
	if err != nil {
		s.finishWithError(runID, err)
		return
	}
	if result.Paused {
		s.persistPause(runID, snap)
		return
	}

	var (
		groupCount int64
		dupFiles   int64
		wasted     int64
	)
	for digest, files := range result.Groups {
		size := fileSize(files[0])
		g := &db.DuplicateGroup{
			ScanRunID:   runID,
			Digest:      digest,
			FileSize:    size,
			FileCount:   len(files),
			WastedBytes: size * int64(len(files)-1),
			Files:       files,
		}
		if err := s.db.CreateDuplicateGroup(g); err != nil {
			slog.Error("store duplicate group", slog.Int64("run_id", runID), slog.Any("error", err))
			continue
		}
		groupCount++
		dupFiles += int64(len(files))
		wasted += g.WastedBytes
	}

	failures := int64(len(result.Failures) + snap.DirErrors)
	if err := s.db.UpdateScanRunProgress(runID, snap.FilesFound, groupCount, dupFiles, wasted, failures); err != nil {
		slog.Error("update scan progress", slog.Int64("run_id", runID), slog.Any("error", err))
	}
	if err := s.db.CompleteScanRun(runID, db.ScanRunStatusCompleted, nil); err != nil {
		slog.Error("complete scan run", slog.Int64("run_id", runID), slog.Any("error", err))
	}

	s.broadcast(runID, &types.ScanProgress{
		Stage:      stages,
		Stages:     stages,
		Fraction:   1,
		FilesFound: snap.FilesFound,
		Failures:   int(failures),
		Status:     "completed",
	})
	slog.Info("scan completed",
		slog.Int64("run_id", runID),
		slog.Int64("groups", groupCount),
		slog.Int64("duplicate_files", dupFiles),
		slog.Int64("wasted_bytes", wasted),
		slog.Int64("failures", failures))
}

// persistPause stores the snapshot and flips the run to paused.
func (s *Scanner) persistPause(runID int64, snap *sessionSnapshot) {
	state, err := json.Marshal(snap)
	if err != nil {
		s.finishWithError(runID, fmt.Errorf("encode session snapshot: %w", err))
		return
	}
	if err := s.db.SetScanRunSession(runID, string(state)); err != nil {
		s.finishWithError(runID, fmt.Errorf("persist session snapshot: %w", err))
		return
	}

	failures := snap.DirErrors
	if snap.Pipeline != nil {
		failures += len(snap.Pipeline.Failures)
	}
	s.broadcast(runID, &types.ScanProgress{
		FilesFound: snap.FilesFound,
		Failures:   failures,
		Status:     "paused",
	})
	slog.Info("scan paused", slog.Int64("run_id", runID), slog.Int64("files_found", snap.FilesFound))
}

func (s *Scanner) finishWithError(runID int64, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		msg := "scan cancelled"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "scan timed out"
		}
		s.db.CompleteScanRun(runID, db.ScanRunStatusCancelled, &msg)
		s.broadcast(runID, &types.ScanProgress{Status: "cancelled"})
		slog.Info("scan cancelled", slog.Int64("run_id", runID), slog.String("reason", msg))
		return
	}

	msg := err.Error()
	s.db.CompleteScanRun(runID, db.ScanRunStatusFailed, &msg)
	s.broadcast(runID, &types.ScanProgress{Status: "failed"})
	slog.Error("scan failed", slog.Int64("run_id", runID), slog.Any("error", err))
}

// DeleteFile removes a file through the application: the file is deleted
// from disk, audited, and pulled out of every stored duplicate group so no
// stale group can act on it.
func (s *Scanner) DeleteFile(runID int64, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to delete directory %s", path)
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	if err := s.db.RecordDeletion(runID, path, info.Size()); err != nil {
		slog.Error("record deletion", slog.String("path", path), slog.Any("error", err))
	}
	return s.db.RemovePathFromGroups(path)
}

// overallFraction maps a stage-local progress event onto [0, 1] across the
// whole run, enumeration included.
func overallFraction(stage, stages int, p scan.Progress) float64 {
	within := 0.0
	if p.Total > 0 {
		within = float64(p.Done) / float64(p.Total)
	}
	return (float64(stage) + within) / float64(stages)
}

func expandPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, config.ExpandPath(p))
	}
	return out
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
