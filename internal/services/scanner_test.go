package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediadup/internal/db"
	"mediadup/internal/scan"
	"mediadup/internal/types"
)

// testDB creates a test database in a temp directory
func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// waitForStatus polls until the run reaches the wanted status.
func waitForStatus(t *testing.T, database *db.DB, runID int64, want db.ScanRunStatus) *db.ScanRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last db.ScanRunStatus
	for time.Now().Before(deadline) {
		run, err := database.GetScanRun(runID)
		if err != nil {
			t.Fatalf("GetScanRun: %v", err)
		}
		last = run.Status
		if run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %d never reached status %s (last: %s)", runID, want, last)
	return nil
}

func TestNewScanner(t *testing.T) {
	database := testDB(t)
	timeout := 5 * time.Minute

	scanner := NewScanner(database, timeout)

	if scanner.db != database {
		t.Error("scanner.db not set correctly")
	}
	if scanner.scanTimeout != timeout {
		t.Errorf("scanner.scanTimeout = %v, want %v", scanner.scanTimeout, timeout)
	}
	if scanner.activeScans == nil {
		t.Error("scanner.activeScans not initialized")
	}
	if scanner.subscribers == nil {
		t.Error("scanner.subscribers not initialized")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	runID := int64(123)

	ch := scanner.Subscribe(runID)
	if ch == nil {
		t.Fatal("Subscribe returned nil channel")
	}

	scanner.subMu.RLock()
	subs := scanner.subscribers[runID]
	scanner.subMu.RUnlock()
	if len(subs) != 1 {
		t.Errorf("expected 1 subscriber, got %d", len(subs))
	}

	scanner.Unsubscribe(runID, ch)

	scanner.subMu.RLock()
	subs = scanner.subscribers[runID]
	scanner.subMu.RUnlock()
	if len(subs) != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", len(subs))
	}
}

func TestStartScanFindsDuplicates(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "same-bytes-here")
	writeFile(t, filepath.Join(root, "sub", "b.jpg"), "same-bytes-here")
	writeFile(t, filepath.Join(root, "c.jpg"), "entirely different content")
	writeFile(t, filepath.Join(root, "notes.txt"), "same-bytes-here")

	cfg := &ScanConfig{
		Paths:      []string{root},
		Extensions: []string{".jpg"},
	}

	run, err := scanner.StartScan(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	if run.Status != db.ScanRunStatusRunning {
		t.Errorf("run.Status = %s, want %s", run.Status, db.ScanRunStatusRunning)
	}

	final := waitForStatus(t, database, run.ID, db.ScanRunStatusCompleted)

	if final.FilesFound != 3 {
		t.Errorf("FilesFound = %d, want 3 (txt excluded)", final.FilesFound)
	}
	if final.DuplicateGroups != 1 {
		t.Errorf("DuplicateGroups = %d, want 1", final.DuplicateGroups)
	}
	if final.WastedBytes != int64(len("same-bytes-here")) {
		t.Errorf("WastedBytes = %d, want %d", final.WastedBytes, len("same-bytes-here"))
	}

	groups, err := database.ListDuplicateGroups(run.ID)
	if err != nil {
		t.Fatalf("ListDuplicateGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d stored groups, want 1", len(groups))
	}
	if groups[0].FileCount != 2 {
		t.Errorf("group file count = %d, want 2", groups[0].FileCount)
	}
}

func TestStartScanNoPaths(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	if _, err := scanner.StartScan(context.Background(), &ScanConfig{}, nil); err == nil {
		t.Error("expected error for empty path list")
	}
}

func TestStartScanWithJobID(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           "Test Job",
		Paths:          []string{t.TempDir()},
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}

	cfg := &ScanConfig{Paths: job.Paths, Extensions: []string{".jpg"}}
	run, err := scanner.StartScan(context.Background(), cfg, &job.ID)
	if err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}

	final := waitForStatus(t, database, run.ID, db.ScanRunStatusCompleted)
	if final.ScheduledJobID == nil || *final.ScheduledJobID != job.ID {
		t.Errorf("ScheduledJobID = %v, want %d", final.ScheduledJobID, job.ID)
	}
}

func TestPauseAndResume(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("d%02d", i), "pic.jpg"), "pause-duplicate-bytes")
	}

	cfg := &ScanConfig{
		Paths:      []string{root},
		Extensions: []string{".jpg"},
		Throttle: scan.ThrottlePolicy{
			Enabled:       true,
			Workers:       1,
			DispatchDelay: 10 * time.Millisecond,
		},
	}

	run, err := scanner.StartScan(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	if err := scanner.PauseScan(run.ID); err != nil {
		t.Fatalf("PauseScan failed: %v", err)
	}

	paused := waitForStatus(t, database, run.ID, db.ScanRunStatusPaused)
	if paused.SessionState == nil {
		t.Fatal("paused run has no session snapshot")
	}

	if _, err := scanner.ResumeScan(run.ID); err != nil {
		t.Fatalf("ResumeScan failed: %v", err)
	}
	final := waitForStatus(t, database, run.ID, db.ScanRunStatusCompleted)

	if final.SessionState != nil {
		t.Error("completed run still carries a snapshot")
	}
	if final.FilesFound != 20 {
		t.Errorf("FilesFound = %d, want 20", final.FilesFound)
	}
	groups, _ := database.ListDuplicateGroups(run.ID)
	if len(groups) != 1 || groups[0].FileCount != 20 {
		t.Fatalf("resume did not find the full duplicate group: %+v", groups)
	}
}

func TestResumeScanNotPaused(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	run, err := database.CreateScanRun("tok", nil, []string{"/tmp"}, false)
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}

	if _, err := scanner.ResumeScan(run.ID); err != ErrScanNotPaused {
		t.Errorf("ResumeScan error = %v, want ErrScanNotPaused", err)
	}
}

func TestResumeFromStoredSnapshot(t *testing.T) {
	// Simulates a restart: the run exists only as a paused row with a
	// snapshot, no in-process state.
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x.jpg"), "snapshot-dup")
	writeFile(t, filepath.Join(root, "y.jpg"), "snapshot-dup")

	run, err := database.CreateScanRun("tok-snap", nil, []string{root}, false)
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}
	snap := sessionSnapshot{
		Config: ScanConfig{Paths: []string{root}, Extensions: []string{".jpg"}},
	}
	state, _ := json.Marshal(snap)
	if err := database.SetScanRunSession(run.ID, string(state)); err != nil {
		t.Fatalf("SetScanRunSession: %v", err)
	}

	if _, err := scanner.ResumeScan(run.ID); err != nil {
		t.Fatalf("ResumeScan failed: %v", err)
	}
	final := waitForStatus(t, database, run.ID, db.ScanRunStatusCompleted)
	if final.DuplicateGroups != 1 {
		t.Errorf("DuplicateGroups = %d, want 1", final.DuplicateGroups)
	}
}

func TestCancelScan(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("f%02d.jpg", i)), "cancel-duplicate-bytes")
	}

	cfg := &ScanConfig{
		Paths:      []string{root},
		Extensions: []string{".jpg"},
		Throttle: scan.ThrottlePolicy{
			Enabled:       true,
			Workers:       1,
			DispatchDelay: 10 * time.Millisecond,
		},
	}

	run, err := scanner.StartScan(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	scanner.CancelScan(run.ID)

	final := waitForStatus(t, database, run.ID, db.ScanRunStatusCancelled)
	if final.ErrorMessage == nil {
		t.Error("cancelled run should record a message")
	}
	if final.SessionState != nil {
		t.Error("cancelled run should not carry a snapshot")
	}
}

func TestPauseScanNotActive(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	if err := scanner.PauseScan(42); err != ErrScanNotActive {
		t.Errorf("PauseScan error = %v, want ErrScanNotActive", err)
	}
}

func TestDeleteFile(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, 5*time.Minute)

	root := t.TempDir()
	target := filepath.Join(root, "dup.jpg")
	keeper := filepath.Join(root, "keep.jpg")
	writeFile(t, target, "doomed-bytes")
	writeFile(t, keeper, "doomed-bytes")

	run, _ := database.CreateScanRun("tok-del", nil, []string{root}, false)
	g := &db.DuplicateGroup{
		ScanRunID: run.ID, Digest: "d", FileSize: 12, FileCount: 2, WastedBytes: 12,
		Files: []string{target, keeper},
	}
	if err := database.CreateDuplicateGroup(g); err != nil {
		t.Fatalf("CreateDuplicateGroup: %v", err)
	}

	if err := scanner.DeleteFile(run.ID, target); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file still exists on disk")
	}
	deletions, err := database.ListDeletions(10)
	if err != nil {
		t.Fatalf("ListDeletions: %v", err)
	}
	if len(deletions) != 1 || deletions[0].Path != target {
		t.Errorf("deletion not audited: %+v", deletions)
	}
	// Two-member group loses a file and dissolves.
	groups, _ := database.ListDuplicateGroups(run.ID)
	if len(groups) != 0 {
		t.Errorf("got %d groups after delete, want 0", len(groups))
	}
}

func TestDeleteFileRefusesDirectory(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	if err := scanner.DeleteFile(1, t.TempDir()); err == nil {
		t.Error("expected error deleting a directory")
	}
}

func TestBroadcast(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	runID := int64(999)
	ch1 := scanner.Subscribe(runID)
	ch2 := scanner.Subscribe(runID)

	progress := &types.ScanProgress{FilesFound: 100, Status: "running"}
	go scanner.broadcast(runID, progress)

	for _, ch := range []chan *types.ScanProgress{ch1, ch2} {
		select {
		case received := <-ch:
			if received.FilesFound != 100 {
				t.Errorf("received FilesFound = %d, want 100", received.FilesFound)
			}
		case <-time.After(time.Second):
			t.Error("subscriber did not receive progress")
		}
	}
}

func TestCloseSubscribers(t *testing.T) {
	scanner := NewScanner(testDB(t), 5*time.Minute)

	runID := int64(888)
	ch1 := scanner.Subscribe(runID)
	ch2 := scanner.Subscribe(runID)

	scanner.closeSubscribers(runID)

	if _, ok := <-ch1; ok {
		t.Error("ch1 should be closed")
	}
	if _, ok := <-ch2; ok {
		t.Error("ch2 should be closed")
	}

	scanner.subMu.RLock()
	subs := scanner.subscribers[runID]
	scanner.subMu.RUnlock()
	if len(subs) != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", len(subs))
	}
}

func TestRunScanReleasesContext(t *testing.T) {
	database := testDB(t)
	scanner := NewScanner(database, time.Hour)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), "hello")

	run, err := database.CreateScanRun("tok-release", nil, []string{dir}, false)
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	active := &activeScan{cancel: func() {
		cancel()
		close(released)
	}}
	scanner.mu.Lock()
	scanner.activeScans[run.ID] = active
	scanner.mu.Unlock()

	scanner.runScan(ctx, run.ID, active, &sessionSnapshot{Config: ScanConfig{
		Paths:      []string{dir},
		Extensions: []string{".jpg"},
	}})

	select {
	case <-released:
	default:
		t.Error("run context should be released when the run finishes")
	}
	if scanner.IsActive(run.ID) {
		t.Error("completed run should no longer be active")
	}
}

func TestOverallFraction(t *testing.T) {
	p := scan.Progress{Done: 5, Total: 10}
	if got := overallFraction(1, 4, p); got != 0.375 {
		t.Errorf("overallFraction = %v, want 0.375", got)
	}
	if got := overallFraction(0, 3, scan.Progress{}); got != 0 {
		t.Errorf("overallFraction with zero total = %v, want 0", got)
	}
}
