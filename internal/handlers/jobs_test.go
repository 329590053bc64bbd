package handlers

import (
	"testing"

	"mediadup/internal/db"
)

func TestValidateJob(t *testing.T) {
	h := &Handler{}

	tests := []struct {
		name    string
		job     *db.ScheduledJob
		wantMsg string
	}{
		{
			"missing name",
			&db.ScheduledJob{Paths: []string{"/photos"}, CronExpression: "0 3 * * *"},
			"Name is required",
		},
		{
			"missing paths",
			&db.ScheduledJob{Name: "nightly", CronExpression: "0 3 * * *"},
			"At least one path is required",
		},
		{
			"empty cron",
			&db.ScheduledJob{Name: "nightly", Paths: []string{"/photos"}, CronExpression: ""},
			"Invalid cron expression: empty spec string",
		},
		{
			"six-field cron rejected",
			&db.ScheduledJob{Name: "nightly", Paths: []string{"/photos"}, CronExpression: "0 0 3 * * *"},
			"Invalid cron expression: expected exactly 5 fields, found 6: [0 0 3 * * *]",
		},
		{
			"valid",
			&db.ScheduledJob{Name: "nightly", Paths: []string{"/photos"}, CronExpression: "0 3 * * *"},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.validateJob(tt.job)
			if got != tt.wantMsg {
				t.Errorf("validateJob() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestValidateJobSetsNextRun(t *testing.T) {
	h := &Handler{}
	job := &db.ScheduledJob{
		Name:           "weekly",
		Paths:          []string{"/photos"},
		CronExpression: "0 4 * * 0",
	}

	if msg := h.validateJob(job); msg != "" {
		t.Fatalf("validateJob() = %q, want valid", msg)
	}
	if job.NextRunAt == nil {
		t.Fatal("NextRunAt should be set for a valid job")
	}
	if !job.NextRunAt.After(job.CreatedAt) {
		t.Error("NextRunAt should be in the future")
	}
}
