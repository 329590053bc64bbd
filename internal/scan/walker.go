package scan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Candidate is a file that passed the extension allow-list during
// enumeration. Size is a snapshot taken at enumeration time; a long scan is
// not guarded against concurrent filesystem changes.
type Candidate struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Ext  string `json:"ext"`
}

// Frontier is the resumable walker state: everything discovered so far plus
// the directories not yet processed. Replaying a frontier re-emits nothing
// and never re-descends into pruned subtrees, because the directory list was
// fixed when phase one ran.
type Frontier struct {
	Found     []Candidate `json:"found"`
	Pending   []string    `json:"pending"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	DirErrors int         `json:"dir_errors"`
}

// WalkResult is what an enumeration pass hands back. When Complete is false
// the walk was paused and Frontier resumes it; when true, Candidates is the
// full candidate list.
type WalkResult struct {
	Candidates []Candidate
	Complete   bool
	Frontier   *Frontier
	DirErrors  int
}

// Walker enumerates candidate files under a set of roots, pruning skipped
// subtrees, pausable at directory granularity.
type Walker struct {
	Roots        []string
	Extensions   []string // lowercase, dot-prefixed allow-list
	SkipPatterns []string
	Progress     ProgressFunc
	Pause        PauseFunc

	exts map[string]struct{}
}

const walkLabel = "Scanning folders"

// Enumerate walks the roots in two phases: the first lists every non-pruned
// directory (the progress denominator), the second reads files from each.
func (w *Walker) Enumerate(ctx context.Context) (*WalkResult, error) {
	frontier := &Frontier{}
	frontier.Pending = w.listDirectories()
	frontier.Total = len(frontier.Pending)
	return w.Resume(ctx, frontier)
}

// Resume continues from a saved frontier without re-running phase one.
func (w *Walker) Resume(ctx context.Context, frontier *Frontier) (*WalkResult, error) {
	w.initExtensions()

	for len(frontier.Pending) > 0 {
		if err := ctx.Err(); err != nil {
			return &WalkResult{Complete: false, Frontier: frontier, DirErrors: frontier.DirErrors}, err
		}
		if w.Pause.requested() {
			slog.Debug("walk paused",
				slog.Int("processed", frontier.Processed),
				slog.Int("total", frontier.Total))
			return &WalkResult{
				Candidates: frontier.Found,
				Complete:   false,
				Frontier:   frontier,
				DirErrors:  frontier.DirErrors,
			}, nil
		}

		dir := frontier.Pending[0]
		frontier.Pending = frontier.Pending[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			// Unreadable directory: skip it, never abort the walk.
			slog.Debug("skipping unreadable directory", slog.String("path", dir), slog.Any("error", err))
			frontier.DirErrors++
		} else {
			for _, entry := range entries {
				if entry.IsDir() || !entry.Type().IsRegular() {
					continue
				}
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				if _, ok := w.exts[ext]; !ok {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				frontier.Found = append(frontier.Found, Candidate{
					Path: filepath.Join(dir, entry.Name()),
					Size: info.Size(),
					Ext:  ext,
				})
			}
		}

		frontier.Processed++
		w.Progress.emit(Progress{
			Done:  int64(frontier.Processed),
			Total: int64(frontier.Total),
			Label: walkLabel,
		})
	}

	return &WalkResult{
		Candidates: frontier.Found,
		Complete:   true,
		Frontier:   frontier,
		DirErrors:  frontier.DirErrors,
	}, nil
}

// listDirectories is phase one: breadth-first discovery of every directory
// that is not pruned by a skip pattern. Pruning a directory here means
// nothing beneath it is ever visited, even if a deeper directory would not
// itself match.
func (w *Walker) listDirectories() []string {
	var dirs []string
	queue := make([]string, 0, len(w.Roots))
	for _, root := range w.Roots {
		if root == "" {
			continue
		}
		if MatchesSkip(root, w.SkipPatterns) {
			continue
		}
		queue = append(queue, root)
	}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		dirs = append(dirs, dir)

		// Unreadable directories are counted once, by phase two.
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			sub := filepath.Join(dir, entry.Name())
			if MatchesSkip(sub, w.SkipPatterns) {
				continue
			}
			queue = append(queue, sub)
		}
	}
	return dirs
}

func (w *Walker) initExtensions() {
	if w.exts != nil {
		return
	}
	w.exts = make(map[string]struct{}, len(w.Extensions))
	for _, ext := range w.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.exts[ext] = struct{}{}
	}
}
