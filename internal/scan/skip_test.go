package scan

import "testing"

func TestMatchesSkip(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		patterns []string
		want     bool
	}{
		{"no patterns", "/home/user/photos", nil, false},
		{"exact match", "/home/user/cache", []string{"/home/user/cache"}, true},
		{"case insensitive", "/Home/User/Cache", []string{"/home/user/CACHE"}, true},
		{"wildcard any depth", "/srv/app/vendor/node_modules", []string{"*/node_modules"}, true},
		{"wildcard deep", "/a/b/c/d/node_modules", []string{"*/node_modules"}, true},
		{"sibling not matched", "/a/b/c/d/node_other", []string{"*/node_modules"}, false},
		{"no partial segment leak", "/a/node_modules_backup", []string{"*/node_modules"}, false},
		{"windows separators", `C:\Windows\System32`, []string{"c:/windows*"}, true},
		{"windows pattern", "/mnt/c/windows", []string{`*\windows`}, true},
		{"question mark", "/tmp/v1", []string{"/tmp/v?"}, true},
		{"trailing slash normalized", "/var/tmp/", []string{"/var/tmp"}, true},
		{"interior wildcard", "/data/2019/raw/backup", []string{"/data/*/backup"}, true},
		{"regex metacharacters literal", "/tmp/a+b(c)", []string{"/tmp/a+b(c)"}, true},
		{"prefix alone does not match", "/home/user/photos", []string{"/home/user/photos/albums"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesSkip(tt.path, tt.patterns); got != tt.want {
				t.Errorf("MatchesSkip(%q, %v) = %v, want %v", tt.path, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\Users\Photos`, "c:/users/photos"},
		{"/HOME/User/", "/home/user"},
		{"/", "/"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
