package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"mediadup/internal/config"
	"mediadup/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAppendSkipFolder(t *testing.T) {
	tests := []struct {
		name  string
		skips []string
		dir   string
		want  []string
	}{
		{
			"appends new folder",
			[]string{"*/node_modules"},
			"/photos/old",
			[]string{"*/node_modules", "/photos/old"},
		},
		{
			"exact folder already listed",
			[]string{"/photos/old"},
			"/photos/old",
			[]string{"/photos/old"},
		},
		{
			"folder covered by glob pattern",
			[]string{"*/old"},
			"/photos/old",
			[]string{"*/old"},
		},
		{
			"case-insensitive match",
			[]string{"/photos/old"},
			"/Photos/Old",
			[]string{"/photos/old"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appendSkipFolder(append([]string(nil), tt.skips...), tt.dir)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("appendSkipFolder(%v, %q) = %v, want %v", tt.skips, tt.dir, got, tt.want)
			}
		})
	}
}

func TestVisibleGroups(t *testing.T) {
	groups := []*db.DuplicateGroup{
		{
			Digest:      "aaa",
			FileSize:    10,
			FileCount:   3,
			WastedBytes: 20,
			Files:       []string{"/keep/a.jpg", "/keep/b.jpg", "/ignored/c.jpg"},
		},
		{
			Digest:      "bbb",
			FileSize:    5,
			FileCount:   2,
			WastedBytes: 5,
			Files:       []string{"/keep/d.jpg", "/ignored/e.jpg"},
		},
		{
			Digest:      "ccc",
			FileSize:    7,
			FileCount:   2,
			WastedBytes: 7,
			Files:       []string{"/keep/f.jpg", "/keep/g.jpg"},
		},
	}

	got := visibleGroups(groups, []string{"/ignored"})

	if len(got) != 2 {
		t.Fatalf("visibleGroups returned %d groups, want 2", len(got))
	}

	// First group loses one member and its display numbers shrink.
	if got[0].Digest != "aaa" {
		t.Errorf("got[0].Digest = %q, want %q", got[0].Digest, "aaa")
	}
	if want := []string{"/keep/a.jpg", "/keep/b.jpg"}; !reflect.DeepEqual(got[0].Files, want) {
		t.Errorf("got[0].Files = %v, want %v", got[0].Files, want)
	}
	if got[0].FileCount != 2 || got[0].WastedBytes != 10 {
		t.Errorf("got[0] count/wasted = %d/%d, want 2/10", got[0].FileCount, got[0].WastedBytes)
	}

	// Second group falls under two visible members and disappears; the
	// untouched third group passes through as-is.
	if got[1].Digest != "ccc" {
		t.Errorf("got[1].Digest = %q, want %q", got[1].Digest, "ccc")
	}
	if got[1].FileCount != 2 || got[1].WastedBytes != 7 {
		t.Errorf("got[1] count/wasted = %d/%d, want 2/7", got[1].FileCount, got[1].WastedBytes)
	}
}

func TestVisibleGroupsNoSkips(t *testing.T) {
	groups := []*db.DuplicateGroup{
		{Digest: "aaa", FileSize: 10, FileCount: 2, WastedBytes: 10,
			Files: []string{"/keep/a.jpg", "/keep/b.jpg"}},
	}
	got := visibleGroups(groups, nil)
	if len(got) != 1 || got[0] != groups[0] {
		t.Error("groups should pass through untouched without skip patterns")
	}
}

func TestIgnoreFolderPersistsSkipPattern(t *testing.T) {
	database := testDB(t)
	h := &Handler{
		db:          database,
		cfg:         &config.Config{SkipPatterns: []string{"*/node_modules"}},
		csrf:        newCSRFManager(),
		disableCSRF: true,
	}

	run, err := database.CreateScanRun("tok-ignore", nil, []string{"/photos"}, false)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	err = database.CreateDuplicateGroup(&db.DuplicateGroup{
		ScanRunID:   run.ID,
		Digest:      "abc",
		FileSize:    5,
		FileCount:   2,
		WastedBytes: 5,
		Files:       []string{"/photos/old/x.jpg", "/photos/new/x.jpg"},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	rec := httptest.NewRecorder()
	req := postForm("/scans/runs/1/ignore-folder", url.Values{"path": {"/photos/old/x.jpg"}})
	h.IgnoreFolder(rec, req, run.ID)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusSeeOther, rec.Body.String())
	}

	stored, err := database.GetSetting("skip_patterns")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	skips := strings.Split(stored, "\n")
	found := false
	for _, s := range skips {
		if s == "/photos/old" {
			found = true
		}
	}
	if !found {
		t.Errorf("skip_patterns = %q, want it to contain /photos/old", stored)
	}

	// Defaults survive alongside the new entry.
	if !strings.Contains(stored, "*/node_modules") {
		t.Errorf("skip_patterns = %q, configured defaults should be preserved", stored)
	}

	// A second ignore of the same folder does not duplicate the entry.
	rec = httptest.NewRecorder()
	req = postForm("/scans/runs/1/ignore-folder", url.Values{"path": {"/photos/old/x.jpg"}})
	h.IgnoreFolder(rec, req, run.ID)

	stored, _ = database.GetSetting("skip_patterns")
	if strings.Count(stored, "/photos/old") != 1 {
		t.Errorf("skip_patterns = %q, want a single /photos/old entry", stored)
	}
}

func TestIgnoreFolderRejectsUnknownPath(t *testing.T) {
	database := testDB(t)
	h := &Handler{
		db:          database,
		cfg:         &config.Config{},
		csrf:        newCSRFManager(),
		disableCSRF: true,
	}

	run, err := database.CreateScanRun("tok-reject", nil, []string{"/photos"}, false)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec := httptest.NewRecorder()
	req := postForm("/scans/runs/1/ignore-folder", url.Values{"path": {"/elsewhere/x.jpg"}})
	h.IgnoreFolder(rec, req, run.ID)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestOpenPathRejectsUnknownPath(t *testing.T) {
	database := testDB(t)
	h := &Handler{
		db:          database,
		cfg:         &config.Config{},
		csrf:        newCSRFManager(),
		disableCSRF: true,
	}

	run, err := database.CreateScanRun("tok-open", nil, []string{"/photos"}, false)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec := httptest.NewRecorder()
	req := postForm("/scans/runs/1/open", url.Values{
		"path":   {"/elsewhere/x.jpg"},
		"target": {"file"},
	})
	h.OpenPath(rec, req, run.ID)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
