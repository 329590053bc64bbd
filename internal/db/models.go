package db

import "time"

// ScanRunStatus represents the lifecycle state of a scan run.
type ScanRunStatus string

const (
	ScanRunStatusRunning   ScanRunStatus = "running"
	ScanRunStatusPaused    ScanRunStatus = "paused"
	ScanRunStatusCompleted ScanRunStatus = "completed"
	ScanRunStatusFailed    ScanRunStatus = "failed"
	ScanRunStatusCancelled ScanRunStatus = "cancelled"
)

// ScanRun represents a single execution of a scan.
type ScanRun struct {
	ID              int64
	Token           string // opaque run token, used in export filenames
	ScheduledJobID  *int64
	Status          ScanRunStatus
	Precision       bool
	Paths           []string
	StartedAt       time.Time
	CompletedAt     *time.Time
	FilesFound      int64
	DuplicateGroups int64
	DuplicateFiles  int64
	WastedBytes     int64
	FailureCount    int64
	ErrorMessage    *string

	// SessionState is the JSON snapshot of a paused run: walker frontier
	// plus pipeline session. Opaque outside the services package.
	SessionState *string
}

// DuplicateGroup is a set of files sharing the terminal stage's digest.
type DuplicateGroup struct {
	ID          int64
	ScanRunID   int64
	Digest      string
	FileSize    int64
	FileCount   int
	WastedBytes int64 // (count-1) * size
	Files       []string
}

// Disposition is a per-file annotation applied during review.
type Disposition string

const (
	DispositionNone   Disposition = "none"
	DispositionKeep   Disposition = "keep"
	DispositionDelete Disposition = "delete"
	DispositionMove   Disposition = "move"
	DispositionReview Disposition = "review"
)

// ValidDisposition reports whether s is a known disposition value.
func ValidDisposition(s string) bool {
	switch Disposition(s) {
	case DispositionNone, DispositionKeep, DispositionDelete, DispositionMove, DispositionReview:
		return true
	}
	return false
}

// Annotation attaches a disposition to one file within a scan run.
type Annotation struct {
	ScanRunID   int64
	Path        string
	Disposition Disposition
	UpdatedAt   time.Time
}

// ScheduledJob is a cron-driven scan definition.
type ScheduledJob struct {
	ID             int64
	Name           string
	Paths          []string
	Extensions     []string
	SkipPatterns   []string
	Precision      bool
	CronExpression string
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
}

// Deletion is an audit record of a file removed through the application.
type Deletion struct {
	ID        int64
	ScanRunID int64
	Path      string
	Size      int64
	DeletedAt time.Time
}
