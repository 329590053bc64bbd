package scan

import (
	"context"
	"log/slog"
	"sort"
)

// Stage identifies a pipeline stage. The pipeline is a refinement chain:
// every stage's candidate set is a subset of the previous stage's.
type Stage int

const (
	StageSizeFilter Stage = iota
	StageQuickHash
	StageFullHash
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageSizeFilter:
		return "size-filter"
	case StageQuickHash:
		return "quick-hash"
	case StageFullHash:
		return "full-hash"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// Session is the caller-owned state of one pipeline run. It is created for
// a candidate list, passed into Run, and updated in place; a paused session
// is resumed by calling Run again with the same session. The whole struct
// is JSON-serializable so a snapshot can outlive the process.
type Session struct {
	Stage     Stage `json:"stage"`
	Precision bool  `json:"precision"`

	Input []string `json:"input"` // candidate paths from enumeration

	SizeMatched []string `json:"size_matched"` // stage 1 output

	Quick        map[string]string `json:"quick"` // path -> quick digest
	PendingQuick []string          `json:"pending_quick"`
	QuickDone    int64             `json:"quick_done"`

	FullCandidates []string          `json:"full_candidates"` // stage 2 survivors
	Full           map[string]string `json:"full"`            // path -> full digest
	PendingFull    []string          `json:"pending_full"`
	FullDone       int64             `json:"full_done"`

	Failures []FileFailure `json:"failures"`
}

// NewSession prepares a session over the given candidate paths. Precision
// adds the full-hash verification stage.
func NewSession(paths []string, precision bool) *Session {
	return &Session{
		Stage:     StageSizeFilter,
		Precision: precision,
		Input:     paths,
		Quick:     make(map[string]string),
		Full:      make(map[string]string),
	}
}

// Stages returns how many stages this session runs.
func (s *Session) Stages() int {
	if s.Precision {
		return 3
	}
	return 2
}

// Result is the outcome of a Run call. Exactly one of three shapes comes
// back: Complete with final Groups, Paused with resumable session state, or
// neither when the run was cancelled. Callers must check Complete rather
// than infer success from an empty group map.
type Result struct {
	Groups   map[string][]string
	Complete bool
	Paused   bool
	Failures []FileFailure
}

// Coordinator drives the size → quick-hash → (optional) full-hash pipeline
// over a bounded worker pool. Hash records and groups are mutated only by
// the goroutine running Run; workers hand results back over a channel.
type Coordinator struct {
	Throttle ThrottlePolicy
	// ChunkSize overrides the hashers' window when non-zero.
	ChunkSize int64
	Progress  ProgressFunc
	Pause     PauseFunc
}

const (
	labelSizeFilter = "Filtering by size"
	labelQuickHash  = "Computing quick hashes"
	labelFullHash   = "Verifying full hashes"
)

// Run executes or resumes the pipeline for the session. A nil error with
// Result.Paused means the caller can re-invoke Run later with the same
// session; a context error means the run was cancelled and the result is
// explicitly not complete.
func (c *Coordinator) Run(ctx context.Context, session *Session) (*Result, error) {
	hasher := &Hasher{ChunkSize: c.ChunkSize, ReadDelay: c.Throttle.readDelay()}
	executor := newPool(c.Throttle)
	stages := session.Stages()

	if session.Stage == StageSizeFilter {
		c.Progress.emit(Progress{Stage: 0, Stages: stages, Done: 0, Total: 1, Label: labelSizeFilter})
		matched, failures := PotentialDuplicates(session.Input)
		sort.Strings(matched)
		session.SizeMatched = matched
		session.PendingQuick = matched
		session.Failures = append(session.Failures, failures...)
		session.Stage = StageQuickHash
		c.Progress.emit(Progress{Stage: 0, Stages: stages, Done: 1, Total: 1, Label: labelSizeFilter})
		slog.Debug("size filter complete",
			slog.Int("candidates", len(session.Input)),
			slog.Int("size_matched", len(matched)))
	}

	if session.Stage == StageQuickHash {
		res, err := c.runHashStage(ctx, executor, session, hasher.QuickHash,
			StageQuickHash, labelQuickHash)
		if res != nil || err != nil {
			return res, err
		}

		groups := groupByDigest(session.Quick)
		session.FullCandidates = groupMembers(groups)
		if !session.Precision || len(session.FullCandidates) == 0 {
			// Quick-hash groups are final, or there is nothing left to
			// verify and the pipeline short-circuits.
			session.Stage = StageDone
			if !session.Precision {
				return c.finish(session, groups), nil
			}
			return c.finish(session, map[string][]string{}), nil
		}
		session.PendingFull = session.FullCandidates
		session.Stage = StageFullHash
	}

	if session.Stage == StageFullHash {
		res, err := c.runHashStage(ctx, executor, session, hasher.FullHash,
			StageFullHash, labelFullHash)
		if res != nil || err != nil {
			return res, err
		}
		session.Stage = StageDone
		return c.finish(session, groupByDigest(session.Full)), nil
	}

	// Already-finished session: reassemble the final groups.
	if session.Precision {
		return c.finish(session, groupByDigest(session.Full)), nil
	}
	return c.finish(session, groupByDigest(session.Quick)), nil
}

// runHashStage dispatches a stage's pending paths to the pool. It returns
// (nil, nil) when the stage ran to completion, a paused result when the
// pause signal fired, and an error when the context was cancelled.
func (c *Coordinator) runHashStage(
	ctx context.Context,
	executor *pool,
	session *Session,
	hash func(string) (string, error),
	stage Stage,
	label string,
) (*Result, error) {
	var (
		records  map[string]string
		pending  *[]string
		done     *int64
		total    int64
		stageIdx int
	)
	switch stage {
	case StageQuickHash:
		records, pending, done = session.Quick, &session.PendingQuick, &session.QuickDone
		total = int64(len(session.SizeMatched))
		stageIdx = 1
	case StageFullHash:
		records, pending, done = session.Full, &session.PendingFull, &session.FullDone
		total = int64(len(session.FullCandidates))
		stageIdx = 2
	}
	stages := session.Stages()

	c.Progress.emit(Progress{Stage: stageIdx, Stages: stages, Done: *done, Total: total, Label: label})

	remaining, paused, err := executor.run(ctx, *pending, c.Pause, hash, func(res hashResult) {
		*done++
		if res.err != nil {
			// The file is excluded from this stage's grouping; the typed
			// failure is kept so the caller can tell why.
			session.Failures = append(session.Failures, classifyFailure(res.path, res.err))
		} else {
			records[res.path] = res.digest
		}
		c.Progress.emit(Progress{Stage: stageIdx, Stages: stages, Done: *done, Total: total, Label: label})
	})

	*pending = remaining
	if err != nil {
		return &Result{Complete: false, Failures: session.Failures}, err
	}
	if paused {
		slog.Debug("stage paused",
			slog.String("stage", stage.String()),
			slog.Int64("done", *done),
			slog.Int64("total", total))
		return &Result{Paused: true, Complete: false, Failures: session.Failures}, nil
	}
	return nil, nil
}

func (c *Coordinator) finish(session *Session, groups map[string][]string) *Result {
	return &Result{
		Groups:   groups,
		Complete: true,
		Failures: session.Failures,
	}
}

// groupByDigest inverts a path->digest map and keeps groups of two or more.
// Members are sorted, so group content never depends on pool width or
// completion order.
func groupByDigest(records map[string]string) map[string][]string {
	byDigest := make(map[string][]string)
	for path, digest := range records {
		byDigest[digest] = append(byDigest[digest], path)
	}
	groups := make(map[string][]string)
	for digest, paths := range byDigest {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		groups[digest] = paths
	}
	return groups
}

// groupMembers flattens group membership into a sorted path list.
func groupMembers(groups map[string][]string) []string {
	var out []string
	for _, paths := range groups {
		out = append(out, paths...)
	}
	sort.Strings(out)
	return out
}
