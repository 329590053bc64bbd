package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScanRun queries

// CreateScanRun creates a new scan run in the running state.
func (db *DB) CreateScanRun(token string, jobID *int64, paths []string, precision bool) (*ScanRun, error) {
	pathsJSON, _ := json.Marshal(paths)
	result, err := db.Exec(`
		INSERT INTO scan_runs (token, scheduled_job_id, status, precision_mode, paths, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token, jobID, ScanRunStatusRunning, precision, string(pathsJSON), time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetScanRun(id)
}

const scanRunColumns = `id, token, scheduled_job_id, status, precision_mode, paths,
	started_at, completed_at, files_found, duplicate_groups, duplicate_files,
	wasted_bytes, failure_count, error_message, session_state`

// GetScanRun retrieves a scan run by ID.
func (db *DB) GetScanRun(id int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+` FROM scan_runs WHERE id = ?`, id)
	return scanScanRun(row)
}

// ListScanRuns returns scan runs, newest first, with pagination.
func (db *DB) ListScanRuns(limit, offset int) ([]*ScanRun, error) {
	rows, err := db.Query(`SELECT `+scanRunColumns+`
		FROM scan_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRecentScanRuns returns the most recent scan runs.
func (db *DB) GetRecentScanRuns(limit int) ([]*ScanRun, error) {
	return db.ListScanRuns(limit, 0)
}

// GetLastRunForJob returns the most recent scan run for a scheduled job.
func (db *DB) GetLastRunForJob(jobID int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+`
		FROM scan_runs WHERE scheduled_job_id = ? ORDER BY started_at DESC LIMIT 1`, jobID)
	return scanScanRun(row)
}

// UpdateScanRunProgress updates a run's live counters.
func (db *DB) UpdateScanRunProgress(id, filesFound, groups, files, wasted, failures int64) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET
			files_found = ?, duplicate_groups = ?, duplicate_files = ?,
			wasted_bytes = ?, failure_count = ?
		WHERE id = ?`,
		filesFound, groups, files, wasted, failures, id)
	return err
}

// SetScanRunSession marks a run paused and stores its snapshot.
func (db *DB) SetScanRunSession(id int64, state string) error {
	_, err := db.Exec(`UPDATE scan_runs SET status = ?, session_state = ? WHERE id = ?`,
		ScanRunStatusPaused, state, id)
	return err
}

// ResumeScanRun flips a paused run back to running and clears its snapshot.
func (db *DB) ResumeScanRun(id int64) error {
	_, err := db.Exec(`UPDATE scan_runs SET status = ?, session_state = NULL WHERE id = ?`,
		ScanRunStatusRunning, id)
	return err
}

// CompleteScanRun finalizes a run with a terminal status.
func (db *DB) CompleteScanRun(id int64, status ScanRunStatus, errMsg *string) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?, error_message = ?, session_state = NULL
		WHERE id = ?`,
		status, time.Now(), errMsg, id)
	return err
}

func scanScanRun(row interface{ Scan(...any) error }) (*ScanRun, error) {
	var (
		r         ScanRun
		pathsJSON string
	)
	err := row.Scan(&r.ID, &r.Token, &r.ScheduledJobID, &r.Status, &r.Precision, &pathsJSON,
		&r.StartedAt, &r.CompletedAt, &r.FilesFound, &r.DuplicateGroups, &r.DuplicateFiles,
		&r.WastedBytes, &r.FailureCount, &r.ErrorMessage, &r.SessionState)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pathsJSON), &r.Paths); err != nil {
		return nil, fmt.Errorf("decode run paths: %w", err)
	}
	return &r, nil
}

// DuplicateGroup queries

// CreateDuplicateGroup stores one duplicate group for a run.
func (db *DB) CreateDuplicateGroup(g *DuplicateGroup) error {
	filesJSON, _ := json.Marshal(g.Files)
	result, err := db.Exec(`
		INSERT INTO duplicate_groups (scan_run_id, digest, file_size, file_count, wasted_bytes, files)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ScanRunID, g.Digest, g.FileSize, g.FileCount, g.WastedBytes, string(filesJSON))
	if err != nil {
		return err
	}
	g.ID, err = result.LastInsertId()
	return err
}

// GetDuplicateGroup retrieves a duplicate group by ID.
func (db *DB) GetDuplicateGroup(id int64) (*DuplicateGroup, error) {
	row := db.QueryRow(`
		SELECT id, scan_run_id, digest, file_size, file_count, wasted_bytes, files
		FROM duplicate_groups WHERE id = ?`, id)
	return scanDuplicateGroup(row)
}

// ListDuplicateGroups returns all groups for a run, largest waste first.
func (db *DB) ListDuplicateGroups(runID int64) ([]*DuplicateGroup, error) {
	rows, err := db.Query(`
		SELECT id, scan_run_id, digest, file_size, file_count, wasted_bytes, files
		FROM duplicate_groups WHERE scan_run_id = ? ORDER BY wasted_bytes DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*DuplicateGroup
	for rows.Next() {
		g, err := scanDuplicateGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// RemovePathFromGroups removes a deleted file from every stored group. A
// group that falls below two members dissolves, so no later view can act
// on stale membership.
func (db *DB) RemovePathFromGroups(path string) error {
	rows, err := db.Query(`
		SELECT id, scan_run_id, digest, file_size, file_count, wasted_bytes, files
		FROM duplicate_groups WHERE files LIKE ?`, "%"+likeEscape(path)+"%")
	if err != nil {
		return err
	}
	groups := make([]*DuplicateGroup, 0)
	for rows.Next() {
		g, err := scanDuplicateGroup(rows)
		if err != nil {
			rows.Close()
			return err
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, g := range groups {
		var kept []string
		for _, f := range g.Files {
			if f != path {
				kept = append(kept, f)
			}
		}
		if len(kept) == len(g.Files) {
			continue // LIKE matched a superstring, not this exact path
		}
		if len(kept) < 2 {
			if _, err := db.Exec(`DELETE FROM duplicate_groups WHERE id = ?`, g.ID); err != nil {
				return err
			}
			continue
		}
		filesJSON, _ := json.Marshal(kept)
		_, err := db.Exec(`
			UPDATE duplicate_groups SET files = ?, file_count = ?, wasted_bytes = ?
			WHERE id = ?`,
			string(filesJSON), len(kept), g.FileSize*int64(len(kept)-1), g.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func likeEscape(s string) string {
	// JSON-encoded path inside the files column; quotes anchor the match
	// to a whole array element.
	b, _ := json.Marshal(s)
	return string(b)
}

func scanDuplicateGroup(row interface{ Scan(...any) error }) (*DuplicateGroup, error) {
	var (
		g         DuplicateGroup
		filesJSON string
	)
	err := row.Scan(&g.ID, &g.ScanRunID, &g.Digest, &g.FileSize, &g.FileCount, &g.WastedBytes, &filesJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesJSON), &g.Files); err != nil {
		return nil, fmt.Errorf("decode group files: %w", err)
	}
	return &g, nil
}

// Annotation queries

// SetAnnotation upserts a file's disposition within a run.
func (db *DB) SetAnnotation(runID int64, path string, disposition Disposition) error {
	_, err := db.Exec(`
		INSERT INTO annotations (scan_run_id, path, disposition, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scan_run_id, path) DO UPDATE SET disposition = excluded.disposition, updated_at = excluded.updated_at`,
		runID, path, disposition, time.Now())
	return err
}

// GetAnnotations returns path -> disposition for a run.
func (db *DB) GetAnnotations(runID int64) (map[string]Disposition, error) {
	rows, err := db.Query(`SELECT path, disposition FROM annotations WHERE scan_run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Disposition)
	for rows.Next() {
		var (
			path string
			d    Disposition
		)
		if err := rows.Scan(&path, &d); err != nil {
			return nil, err
		}
		out[path] = d
	}
	return out, rows.Err()
}

// ScheduledJob queries

// CreateScheduledJob stores a new job.
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	pathsJSON, _ := json.Marshal(job.Paths)
	extsJSON, _ := json.Marshal(job.Extensions)
	skipsJSON, _ := json.Marshal(job.SkipPatterns)
	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, paths, extensions, skip_patterns, precision_mode, cron_expression, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, string(pathsJSON), string(extsJSON), string(skipsJSON),
		job.Precision, job.CronExpression, job.Enabled, job.NextRunAt)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetScheduledJob(id)
}

const jobColumns = `id, name, paths, extensions, skip_patterns, precision_mode,
	cron_expression, enabled, last_run_at, next_run_at, created_at`

// GetScheduledJob retrieves a job by ID.
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all jobs.
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs ORDER BY name`)
}

// GetEnabledJobs returns jobs the scheduler should consider.
func (db *DB) GetEnabledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE enabled = 1`)
}

func (db *DB) queryJobs(query string) ([]*ScheduledJob, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateScheduledJob rewrites a job's definition.
func (db *DB) UpdateScheduledJob(job *ScheduledJob) error {
	pathsJSON, _ := json.Marshal(job.Paths)
	extsJSON, _ := json.Marshal(job.Extensions)
	skipsJSON, _ := json.Marshal(job.SkipPatterns)
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET
			name = ?, paths = ?, extensions = ?, skip_patterns = ?, precision_mode = ?,
			cron_expression = ?, enabled = ?, next_run_at = ?
		WHERE id = ?`,
		job.Name, string(pathsJSON), string(extsJSON), string(skipsJSON), job.Precision,
		job.CronExpression, job.Enabled, job.NextRunAt, job.ID)
	return err
}

// UpdateJobLastRun records a job execution and its next due time.
func (db *DB) UpdateJobLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		lastRun, nextRun, id)
	return err
}

// DeleteScheduledJob removes a job.
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}

func scanScheduledJob(row interface{ Scan(...any) error }) (*ScheduledJob, error) {
	var (
		j                              ScheduledJob
		pathsJSON, extsJSON, skipsJSON string
	)
	err := row.Scan(&j.ID, &j.Name, &pathsJSON, &extsJSON, &skipsJSON, &j.Precision,
		&j.CronExpression, &j.Enabled, &j.LastRunAt, &j.NextRunAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw string
		out *[]string
	}{
		{pathsJSON, &j.Paths}, {extsJSON, &j.Extensions}, {skipsJSON, &j.SkipPatterns},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.out); err != nil {
			return nil, fmt.Errorf("decode job field: %w", err)
		}
	}
	return &j, nil
}

// Deletion queries

// RecordDeletion appends to the deletion audit log.
func (db *DB) RecordDeletion(runID int64, path string, size int64) error {
	_, err := db.Exec(`INSERT INTO deletions (scan_run_id, path, size, deleted_at) VALUES (?, ?, ?, ?)`,
		runID, path, size, time.Now())
	return err
}

// ListDeletions returns the most recent deletions.
func (db *DB) ListDeletions(limit int) ([]*Deletion, error) {
	rows, err := db.Query(`
		SELECT id, scan_run_id, path, size, deleted_at
		FROM deletions ORDER BY deleted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Deletion
	for rows.Next() {
		var d Deletion
		if err := rows.Scan(&d.ID, &d.ScanRunID, &d.Path, &d.Size, &d.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Settings queries

// GetSetting returns a settings value, or "" when unset.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting upserts a settings value.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// CleanupOldData removes runs (and their groups, annotations and deletions)
// older than the retention window. Paused runs are kept.
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	rows, err := db.Query(`SELECT id FROM scan_runs WHERE started_at < ? AND status != ?`,
		cutoff, ScanRunStatusPaused)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		for _, q := range []string{
			`DELETE FROM duplicate_groups WHERE scan_run_id = ?`,
			`DELETE FROM annotations WHERE scan_run_id = ?`,
			`DELETE FROM deletions WHERE scan_run_id = ?`,
			`DELETE FROM scan_runs WHERE id = ?`,
		} {
			if _, err := db.Exec(q, id); err != nil {
				return err
			}
		}
	}
	return nil
}
