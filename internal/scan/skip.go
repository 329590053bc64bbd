package scan

import (
	"regexp"
	"strings"
)

// MatchesSkip reports whether path matches any of the skip patterns.
// Patterns are glob-style: `*` matches any run of characters, including
// path separators, and `?` matches a single character. Both path and
// pattern are compared case-insensitively with separators normalized to
// `/`, so a pattern written for one platform works on another.
//
// A pattern that cannot be parsed never matches.
func MatchesSkip(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	normalized := NormalizePath(path)
	for _, pattern := range patterns {
		re, err := compileSkipPattern(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// NormalizePath lowercases a path and converts all separators to `/`,
// dropping any trailing separator.
func NormalizePath(path string) string {
	p := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// compileSkipPattern translates a glob pattern into an anchored regexp.
// stdlib path.Match stops `*` at separators, which is the opposite of what
// skip patterns need: `*/node_modules` must match node_modules at any depth.
func compileSkipPattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range NormalizePath(pattern) {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
