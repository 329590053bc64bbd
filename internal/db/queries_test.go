package db

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestScanRunLifecycle(t *testing.T) {
	db := testDB(t)

	run, err := db.CreateScanRun("tok-1", nil, []string{"/data/photos"}, true)
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}
	if run.Status != ScanRunStatusRunning {
		t.Errorf("status = %q, want running", run.Status)
	}
	if !run.Precision {
		t.Error("precision flag lost")
	}
	if len(run.Paths) != 1 || run.Paths[0] != "/data/photos" {
		t.Errorf("paths = %v", run.Paths)
	}

	if err := db.UpdateScanRunProgress(run.ID, 100, 3, 7, 4096, 2); err != nil {
		t.Fatalf("UpdateScanRunProgress: %v", err)
	}

	// Pause stores the snapshot; resume clears it.
	if err := db.SetScanRunSession(run.ID, `{"stage":1}`); err != nil {
		t.Fatalf("SetScanRunSession: %v", err)
	}
	paused, err := db.GetScanRun(run.ID)
	if err != nil {
		t.Fatalf("GetScanRun: %v", err)
	}
	if paused.Status != ScanRunStatusPaused {
		t.Errorf("status = %q, want paused", paused.Status)
	}
	if paused.SessionState == nil || *paused.SessionState != `{"stage":1}` {
		t.Error("session snapshot not stored")
	}
	if paused.FailureCount != 2 {
		t.Errorf("failure count = %d, want 2", paused.FailureCount)
	}

	if err := db.ResumeScanRun(run.ID); err != nil {
		t.Fatalf("ResumeScanRun: %v", err)
	}
	if err := db.CompleteScanRun(run.ID, ScanRunStatusCompleted, nil); err != nil {
		t.Fatalf("CompleteScanRun: %v", err)
	}

	final, err := db.GetScanRun(run.ID)
	if err != nil {
		t.Fatalf("GetScanRun: %v", err)
	}
	if final.Status != ScanRunStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.SessionState != nil {
		t.Error("completed run should have no session snapshot")
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestDuplicateGroupsAndInvalidation(t *testing.T) {
	db := testDB(t)
	run, err := db.CreateScanRun("tok-2", nil, []string{"/data"}, false)
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}

	g := &DuplicateGroup{
		ScanRunID:   run.ID,
		Digest:      "abc123",
		FileSize:    1024,
		FileCount:   3,
		WastedBytes: 2048,
		Files:       []string{"/data/a.jpg", "/data/b.jpg", "/data/c.jpg"},
	}
	if err := db.CreateDuplicateGroup(g); err != nil {
		t.Fatalf("CreateDuplicateGroup: %v", err)
	}

	// Removing one member shrinks the group.
	if err := db.RemovePathFromGroups("/data/b.jpg"); err != nil {
		t.Fatalf("RemovePathFromGroups: %v", err)
	}
	got, err := db.GetDuplicateGroup(g.ID)
	if err != nil {
		t.Fatalf("GetDuplicateGroup: %v", err)
	}
	if got.FileCount != 2 {
		t.Errorf("file count = %d, want 2", got.FileCount)
	}
	if got.WastedBytes != 1024 {
		t.Errorf("wasted = %d, want 1024", got.WastedBytes)
	}
	for _, f := range got.Files {
		if f == "/data/b.jpg" {
			t.Error("removed path still present")
		}
	}

	// Removing another member drops the group below two and dissolves it.
	if err := db.RemovePathFromGroups("/data/a.jpg"); err != nil {
		t.Fatalf("RemovePathFromGroups: %v", err)
	}
	groups, err := db.ListDuplicateGroups(run.ID)
	if err != nil {
		t.Fatalf("ListDuplicateGroups: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0 after dissolution", len(groups))
	}
}

func TestRemovePathFromGroupsIgnoresSuperstrings(t *testing.T) {
	db := testDB(t)
	run, _ := db.CreateScanRun("tok-3", nil, []string{"/data"}, false)

	g := &DuplicateGroup{
		ScanRunID: run.ID, Digest: "d", FileSize: 10, FileCount: 2, WastedBytes: 10,
		Files: []string{"/data/a.jpg.bak", "/data/other.jpg"},
	}
	if err := db.CreateDuplicateGroup(g); err != nil {
		t.Fatalf("CreateDuplicateGroup: %v", err)
	}

	if err := db.RemovePathFromGroups("/data/a.jpg"); err != nil {
		t.Fatalf("RemovePathFromGroups: %v", err)
	}
	got, err := db.GetDuplicateGroup(g.ID)
	if err != nil {
		t.Fatalf("group should survive: %v", err)
	}
	if got.FileCount != 2 {
		t.Errorf("file count = %d, want 2 (no member removed)", got.FileCount)
	}
}

func TestAnnotations(t *testing.T) {
	db := testDB(t)
	run, _ := db.CreateScanRun("tok-4", nil, []string{"/data"}, false)

	if err := db.SetAnnotation(run.ID, "/data/a.jpg", DispositionKeep); err != nil {
		t.Fatalf("SetAnnotation: %v", err)
	}
	// Upsert replaces.
	if err := db.SetAnnotation(run.ID, "/data/a.jpg", DispositionDelete); err != nil {
		t.Fatalf("SetAnnotation upsert: %v", err)
	}
	if err := db.SetAnnotation(run.ID, "/data/b.jpg", DispositionReview); err != nil {
		t.Fatalf("SetAnnotation: %v", err)
	}

	got, err := db.GetAnnotations(run.ID)
	if err != nil {
		t.Fatalf("GetAnnotations: %v", err)
	}
	if got["/data/a.jpg"] != DispositionDelete {
		t.Errorf("a.jpg = %q, want delete", got["/data/a.jpg"])
	}
	if got["/data/b.jpg"] != DispositionReview {
		t.Errorf("b.jpg = %q, want review", got["/data/b.jpg"])
	}
}

func TestScheduledJobs(t *testing.T) {
	db := testDB(t)

	next := time.Now().Add(time.Hour).UTC()
	job, err := db.CreateScheduledJob(&ScheduledJob{
		Name:           "nightly",
		Paths:          []string{"/data/photos"},
		Extensions:     []string{".jpg", ".png"},
		SkipPatterns:   []string{"*/cache"},
		Precision:      true,
		CronExpression: "0 3 * * *",
		Enabled:        true,
		NextRunAt:      &next,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob: %v", err)
	}
	if job.Name != "nightly" || !job.Precision || len(job.Extensions) != 2 {
		t.Errorf("job round-trip mismatch: %+v", job)
	}

	enabled, err := db.GetEnabledJobs()
	if err != nil {
		t.Fatalf("GetEnabledJobs: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("got %d enabled jobs, want 1", len(enabled))
	}

	job.Enabled = false
	if err := db.UpdateScheduledJob(job); err != nil {
		t.Fatalf("UpdateScheduledJob: %v", err)
	}
	enabled, _ = db.GetEnabledJobs()
	if len(enabled) != 0 {
		t.Errorf("got %d enabled jobs after disable, want 0", len(enabled))
	}

	if err := db.DeleteScheduledJob(job.ID); err != nil {
		t.Fatalf("DeleteScheduledJob: %v", err)
	}
	if _, err := db.GetScheduledJob(job.ID); err == nil {
		t.Error("deleted job still retrievable")
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	// Seeded by migration.
	val, err := db.GetSetting("retention_days")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if val != "30" {
		t.Errorf("retention_days = %q, want seeded 30", val)
	}

	if err := db.SetSetting("extensions", ".jpg,.png"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := db.SetSetting("extensions", ".jpg"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	val, _ = db.GetSetting("extensions")
	if val != ".jpg" {
		t.Errorf("extensions = %q, want .jpg", val)
	}

	val, err = db.GetSetting("does-not-exist")
	if err != nil {
		t.Fatalf("GetSetting missing: %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}
}

func TestCleanupOldDataKeepsPausedRuns(t *testing.T) {
	db := testDB(t)

	old, _ := db.CreateScanRun("tok-old", nil, []string{"/a"}, false)
	paused, _ := db.CreateScanRun("tok-paused", nil, []string{"/b"}, false)

	// Backdate both beyond retention.
	backdate := time.Now().AddDate(0, 0, -90)
	for _, id := range []int64{old.ID, paused.ID} {
		if _, err := db.Exec(`UPDATE scan_runs SET started_at = ? WHERE id = ?`, backdate, id); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}
	if err := db.CompleteScanRun(old.ID, ScanRunStatusCompleted, nil); err != nil {
		t.Fatalf("CompleteScanRun: %v", err)
	}
	if err := db.SetScanRunSession(paused.ID, `{}`); err != nil {
		t.Fatalf("SetScanRunSession: %v", err)
	}

	if err := db.CleanupOldData(30); err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}

	if _, err := db.GetScanRun(old.ID); err == nil {
		t.Error("expired run should be gone")
	}
	if _, err := db.GetScanRun(paused.ID); err != nil {
		t.Errorf("paused run should survive cleanup: %v", err)
	}
}
