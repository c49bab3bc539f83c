package server

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/npl-go/npcore/internal/store"
)

func elapsedOf(job *Job) time.Duration {
	if job.EndTime != nil {
		return job.EndTime.Sub(job.StartTime)
	}
	return time.Since(job.StartTime)
}

func renderPage(w http.ResponseWriter, title, name string, data interface{}) {
	var body bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&body, name, data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "layout", layoutData{Title: title, Body: template.HTML(body.String())}); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	jobs := s.jobManager.ListJobs()
	renderPage(w, "Jobs", "jobList", struct{ Jobs []*Job }{Jobs: jobs})
}

// handleJobDetail handles GET /jobs/:id
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Path[len("/jobs/"):]

	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		renderPage(w, "Job not found", "jobNotFound", jobID)
		return
	}

	elapsed := elapsedOf(job)
	renderPage(w, "Job "+job.ID, "jobDetail", struct {
		*Job
		Elapsed string
	}{Job: job, Elapsed: elapsed.String()})
}

// handleCreatePage handles GET /create and POST /create
func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleCreatePageGet(w, r)
	case http.MethodPost:
		s.handleCreatePagePost(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreatePageGet(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "New job", "createForm", struct{ Error string }{})
}

// handleCreatePagePost processes the job creation form submission.
func (s *Server) handleCreatePagePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderPage(w, "New job", "createForm", struct{ Error string }{"Failed to parse form data"})
		return
	}

	kind := store.Kind(r.FormValue("kind"))
	config := JobConfig{
		Kind:        kind,
		FixedPath:   r.FormValue("fixedPath"),
		MovingPath:  r.FormValue("movingPath"),
		Metric:      r.FormValue("metric"),
		ReorgPrefix: r.FormValue("reorgPrefix"),
	}

	switch kind {
	case store.KindRegister:
		if config.FixedPath == "" || config.MovingPath == "" {
			renderPage(w, "New job", "createForm", struct{ Error string }{"fixedPath and movingPath are required"})
			return
		}
		if config.Metric == "" {
			config.Metric = "COR"
		}
		config.Sigmas = []float64{4, 2, 0}
	case store.KindGICA:
		if config.ReorgPrefix == "" {
			renderPage(w, "New job", "createForm", struct{ Error string }{"reorgPrefix is required"})
			return
		}
		config.Method = "deflation"
	default:
		renderPage(w, "New job", "createForm", struct{ Error string }{"kind must be register or gica"})
		return
	}

	job := s.jobManager.CreateJob(config)

	go runJob(s.ctx, s.jobManager, s.store, job.ID)

	http.Redirect(w, r, "/jobs/"+job.ID, http.StatusSeeOther)
}
