package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/npl-go/npcore/internal/ndarray"
	"github.com/npl-go/npcore/internal/niftiio"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/store"
)

func TestServer_CreateJob(t *testing.T) {
	tmpDir := t.TempDir()
	fixedPath := filepath.Join(tmpDir, "fixed.nii")
	movingPath := filepath.Join(tmpDir, "moving.nii")
	createSimpleTestVolume(t, fixedPath)
	createSimpleTestVolume(t, movingPath)

	s := NewServer(":8080", nil)

	config := JobConfig{
		Kind:       store.KindRegister,
		FixedPath:  fixedPath,
		MovingPath: movingPath,
		Metric:     "COR",
		Sigmas:     []float64{0},
		Seed:       42,
	}

	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_MissingKind(t *testing.T) {
	s := NewServer(":8080", nil)

	body, _ := json.Marshal(JobConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)

	s.jobManager.CreateJob(JobConfig{Kind: store.KindRegister, FixedPath: "a.nii", MovingPath: "b.nii"})
	s.jobManager.CreateJob(JobConfig{Kind: store.KindGICA, ReorgPrefix: "./data/reorg"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)

	job := s.jobManager.CreateJob(JobConfig{Kind: store.KindRegister, FixedPath: "a.nii", MovingPath: "b.nii"})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}

	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_JobDetailPage(t *testing.T) {
	s := NewServer(":8080", nil)

	job := s.jobManager.CreateJob(JobConfig{
		Kind:       store.KindRegister,
		FixedPath:  "fixed.nii",
		MovingPath: "moving.nii",
		Metric:     "COR",
		Sigmas:     []float64{4, 2, 0},
	})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%s", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleJobDetail(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if w.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Error("Expected text/html content type")
	}

	body := w.Body.String()
	if !containsString(body, job.ID) {
		t.Error("Response should contain job ID")
	}
	if !containsString(body, "Metric value") {
		t.Error("Response should contain metric value")
	}
	if !containsString(body, "fixed.nii") {
		t.Error("Response should contain fixed path")
	}
}

func TestServer_JobDetailPage_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	w := httptest.NewRecorder()

	s.handleJobDetail(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 (with not found message), got %d", w.Code)
	}

	body := w.Body.String()
	if !containsString(body, "No job with ID") {
		t.Error("Response should contain not-found message")
	}
}

func TestServer_JobDetailPage_GICA(t *testing.T) {
	s := NewServer(":8080", nil)

	job := s.jobManager.CreateJob(JobConfig{
		Kind:        store.KindGICA,
		ReorgPrefix: "./data/reorg",
		Method:      "deflation",
	})
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateCompleted
		j.Stage = "ica"
		j.Rank = 12
	})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%s", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleJobDetail(w, req)

	body := w.Body.String()
	if !containsString(body, "Selected rank") {
		t.Error("Response should contain selected rank")
	}
	if !containsString(body, "./data/reorg") {
		t.Error("Response should contain reorg prefix")
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	tmpDir := t.TempDir()
	fixedPath := filepath.Join(tmpDir, "fixed.nii")
	movingPath := filepath.Join(tmpDir, "moving.nii")
	createSimpleTestVolume(t, fixedPath)
	createSimpleTestVolume(t, movingPath)

	s := NewServer(":8080", nil)

	job := s.jobManager.CreateJob(JobConfig{
		Kind:       store.KindRegister,
		FixedPath:  fixedPath,
		MovingPath: movingPath,
		Metric:     "COR",
		Sigmas:     []float64{4, 2, 0},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go runJob(ctx, s.jobManager, nil, job.ID)

	time.Sleep(100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil)
	w := httptest.NewRecorder()

	done := make(chan bool)
	go func() {
		s.handleJobStream(w, req, job.ID)
		done <- true
	}()

	timeout := time.After(3 * time.Second)
	select {
	case <-done:
	case <-timeout:
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	body := w.Body.String()
	if !containsString(body, "data:") {
		t.Error("Expected SSE data in response")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	event := ProgressEvent{
		JobID:      "job1",
		State:      StateRunning,
		Iterations: 10,
		BestCost:   100.5,
		Timestamp:  time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iterations != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iterations)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	eb.CleanupJob("job1")
}

func containsString(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}

// createSimpleTestVolume writes a small single-file NIfTI-1 volume with
// a bright cube on a dark background.
func createSimpleTestVolume(t *testing.T, path string) {
	t.Helper()

	s, err := ndarray.Create([]int{8, 8, 8}, ndarray.KindFloat64)
	if err != nil {
		t.Fatalf("Failed to create test volume: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s)
	for z := 2; z < 6; z++ {
		for y := 2; y < 6; y++ {
			for x := 2; x < 6; x++ {
				if err := acc.Set(1.0, x, y, z); err != nil {
					t.Fatalf("Failed to set voxel: %v", err)
				}
			}
		}
	}

	img := mrimage.New(s)
	if err := niftiio.WriteImage(img, path, niftiio.Version1); err != nil {
		t.Fatalf("Failed to write test volume: %v", err)
	}
}

func TestServer_CreatePageGet(t *testing.T) {
	server := NewServer(":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/create", nil)
	rec := httptest.NewRecorder()

	server.handleCreatePage(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !containsString(body, "Fixed path") {
		t.Error("Expected page to contain 'Fixed path'")
	}
	if !containsString(body, "Reorg prefix") {
		t.Error("Expected page to contain 'Reorg prefix'")
	}
}

func TestServer_CreatePagePost_Success(t *testing.T) {
	server := NewServer(":0", nil)

	form := url.Values{}
	form.Add("kind", "register")
	form.Add("fixedPath", "fixed.nii")
	form.Add("movingPath", "moving.nii")
	form.Add("metric", "MI")
	form.Add("seed", "42")

	req := httptest.NewRequest(http.MethodPost, "/create", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	server.handleCreatePage(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("Expected status 303, got %d", rec.Code)
	}

	location := rec.Header().Get("Location")
	if !bytes.Contains([]byte(location), []byte("/jobs/")) {
		t.Errorf("Expected redirect to /jobs/, got %s", location)
	}

	jobs := server.jobManager.ListJobs()
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", len(jobs))
	}

	job := jobs[0]
	if job.Config.FixedPath != "fixed.nii" {
		t.Errorf("Expected fixedPath fixed.nii, got %s", job.Config.FixedPath)
	}
	if job.Config.Metric != "MI" {
		t.Errorf("Expected metric MI, got %s", job.Config.Metric)
	}
}

func TestServer_CreatePagePost_ValidationErrors(t *testing.T) {
	server := NewServer(":0", nil)

	tests := []struct {
		name     string
		formData map[string]string
		errMsg   string
	}{
		{
			name: "missing fixedPath",
			formData: map[string]string{
				"kind":       "register",
				"movingPath": "moving.nii",
			},
			errMsg: "fixedPath and movingPath are required",
		},
		{
			name: "missing reorgPrefix",
			formData: map[string]string{
				"kind": "gica",
			},
			errMsg: "reorgPrefix is required",
		},
		{
			name: "missing kind",
			formData: map[string]string{
				"fixedPath": "fixed.nii",
			},
			errMsg: "kind must be register or gica",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{}
			for k, v := range tt.formData {
				form.Add(k, v)
			}

			req := httptest.NewRequest(http.MethodPost, "/create", bytes.NewBufferString(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()

			server.handleCreatePage(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rec.Code)
			}

			body := rec.Body.String()
			if !containsString(body, tt.errMsg) {
				t.Errorf("Expected error message '%s' in body", tt.errMsg)
			}
		})
	}
}

func TestServer_CreatePage_Integration(t *testing.T) {
	server := NewServer(":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/create", nil)
	rec := httptest.NewRecorder()
	server.handleCreatePage(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /create: Expected status 200, got %d", rec.Code)
	}

	form := url.Values{}
	form.Add("kind", "gica")
	form.Add("reorgPrefix", "./data/reorg")

	req = httptest.NewRequest(http.MethodPost, "/create", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	server.handleCreatePage(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("POST /create: Expected status 303, got %d", rec.Code)
	}

	location := rec.Header().Get("Location")
	if !bytes.Contains([]byte(location), []byte("/jobs/")) {
		t.Errorf("Expected redirect to /jobs/, got %s", location)
	}
}
