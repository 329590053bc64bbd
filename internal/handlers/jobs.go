package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mediadup/internal/config"
	"mediadup/internal/db"
	"mediadup/internal/scan"
	"mediadup/internal/services"
)

// JobView is a view model for the jobs list
type JobView struct {
	ID             int64
	Name           string
	PathCount      int
	CronExpression string
	Precision      bool
	Enabled        bool
	NextRunAt      string
	LastRunAt      string
	LastRunID      int64
}

// JobsData holds data for the jobs list template
type JobsData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Jobs      []*JobView
}

// JobFormData holds data for the job form template
type JobFormData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Job       *db.ScheduledJob
	Error     string
}

func toJobView(job *db.ScheduledJob) *JobView {
	view := &JobView{
		ID:             job.ID,
		Name:           job.Name,
		PathCount:      len(job.Paths),
		CronExpression: job.CronExpression,
		Precision:      job.Precision,
		Enabled:        job.Enabled,
	}
	if job.NextRunAt != nil {
		view.NextRunAt = job.NextRunAt.Format("2006-01-02 15:04")
	}
	if job.LastRunAt != nil {
		view.LastRunAt = job.LastRunAt.Format("2006-01-02 15:04")
	}
	return view
}

// Jobs handles GET /jobs and POST /jobs
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.CreateJob(w, r)
		return
	}

	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var views []*JobView
	for _, job := range jobs {
		view := toJobView(job)
		if run, err := h.db.GetLastRunForJob(job.ID); err == nil {
			view.LastRunID = run.ID
		}
		views = append(views, view)
	}

	data := JobsData{
		Title:     "Jobs",
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Jobs:      views,
	}

	h.render(w, "jobs.html", data)
}

// JobForm handles GET /jobs/new
func (h *Handler) JobForm(w http.ResponseWriter, r *http.Request) {
	data := JobFormData{
		Title:     "New Job",
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
	}

	h.render(w, "job_form.html", data)
}

// JobRoutes handles routes under /jobs/{id}
func (h *Handler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}

	idStr := parts[2]
	if idStr == "new" {
		h.JobForm(w, r)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) >= 4 {
		switch parts[3] {
		case "edit":
			h.EditJobForm(w, r, id)
			return
		case "toggle":
			if r.Method == http.MethodPost {
				h.ToggleJob(w, r, id)
				return
			}
		case "run":
			if r.Method == http.MethodPost {
				h.RunJob(w, r, id)
				return
			}
		case "delete":
			if r.Method == http.MethodPost || r.Method == http.MethodDelete {
				h.DeleteJob(w, r, id)
				return
			}
		}
	}

	if r.Method == http.MethodPost {
		h.UpdateJob(w, r, id)
		return
	}
	if r.Method == http.MethodDelete {
		h.DeleteJob(w, r, id)
		return
	}

	http.Redirect(w, r, "/jobs/"+idStr+"/edit", http.StatusSeeOther)
}

// parseJobForm parses the job form into a ScheduledJob. The job is always
// returned so forms can be re-rendered with user input preserved.
func (h *Handler) parseJobForm(r *http.Request) (*db.ScheduledJob, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	var paths []string
	for _, p := range splitLines(r.FormValue("paths")) {
		paths = append(paths, config.ExpandPath(p))
	}

	return &db.ScheduledJob{
		Name:           strings.TrimSpace(r.FormValue("name")),
		Paths:          paths,
		Extensions:     splitCommas(r.FormValue("extensions")),
		SkipPatterns:   splitLines(r.FormValue("skip_patterns")),
		Precision:      r.FormValue("precision") == "1",
		CronExpression: strings.TrimSpace(r.FormValue("cron_expression")),
		Enabled:        r.FormValue("enabled") == "1",
	}, nil
}

// validateJob checks the common invariants; an empty return means valid.
func (h *Handler) validateJob(job *db.ScheduledJob) string {
	if job.Name == "" {
		return "Name is required"
	}
	if len(job.Paths) == 0 {
		return "At least one path is required"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(job.CronExpression)
	if err != nil {
		return "Invalid cron expression: " + err.Error()
	}
	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun
	return ""
}

// CreateJob handles POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.parseJobForm(r)
	renderError := func(errMsg string) {
		data := JobFormData{
			Title:     "New Job",
			ActiveNav: "jobs",
			CSRFToken: h.getOrCreateCSRFToken(w, r),
			Job:       job,
			Error:     errMsg,
		}
		h.render(w, "job_form.html", data)
	}

	if err != nil {
		renderError(err.Error())
		return
	}
	if msg := h.validateJob(job); msg != "" {
		renderError(msg)
		return
	}

	created, err := h.db.CreateScheduledJob(job)
	if err != nil {
		renderError("Failed to create job: " + err.Error())
		return
	}

	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, created.ID)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// EditJobForm handles GET /jobs/{id}/edit
func (h *Handler) EditJobForm(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := JobFormData{
		Title:     "Edit Job",
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Job:       job,
	}

	h.render(w, "job_form.html", data)
}

// UpdateJob handles POST /jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.parseJobForm(r)
	if job != nil {
		job.ID = id
	}
	renderError := func(errMsg string) {
		data := JobFormData{
			Title:     "Edit Job",
			ActiveNav: "jobs",
			CSRFToken: h.getOrCreateCSRFToken(w, r),
			Job:       job,
			Error:     errMsg,
		}
		h.render(w, "job_form.html", data)
	}

	if err != nil {
		renderError(err.Error())
		return
	}
	if msg := h.validateJob(job); msg != "" {
		renderError(msg)
		return
	}

	if err := h.db.UpdateScheduledJob(job); err != nil {
		renderError("Failed to update job: " + err.Error())
		return
	}

	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, id)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// ToggleJob handles POST /jobs/{id}/toggle
func (h *Handler) ToggleJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	job.Enabled = !job.Enabled
	if err := h.db.UpdateScheduledJob(job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// RunJob handles POST /jobs/{id}/run
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	h.runJobByID(w, r, id)
}

// runJobByID starts a scan for the given job and redirects to the scan page
func (h *Handler) runJobByID(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(job.Paths) == 0 {
		http.Error(w, "No paths configured for this job", http.StatusBadRequest)
		return
	}

	cfg := &services.ScanConfig{
		Paths:        job.Paths,
		Extensions:   job.Extensions,
		SkipPatterns: job.SkipPatterns,
		Precision:    job.Precision,
		Throttle:     scan.DefaultThrottle,
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = h.cfg.Extensions
	}
	if len(cfg.SkipPatterns) == 0 {
		cfg.SkipPatterns = h.cfg.SkipPatterns
	}

	run, err := h.scanner.StartScan(r.Context(), cfg, &job.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if schedule, err := parser.Parse(job.CronExpression); err == nil {
		h.db.UpdateJobLastRun(id, now, schedule.Next(now))
	}

	http.Redirect(w, r, "/scans/runs/"+strconv.FormatInt(run.ID, 10), http.StatusSeeOther)
}

// DeleteJob handles DELETE /jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	if err := h.db.DeleteScheduledJob(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/jobs")
		w.WriteHeader(http.StatusOK)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}
