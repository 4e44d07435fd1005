package e2e

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/renderdeck/api/internal/model"
)

func TestJobStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodGet, "/api/jobs/does-not-exist", "")
	assertStatus(t, resp, http.StatusNotFound)
	assertErrorCode(t, resp, "NOT_FOUND")
}

func TestCancelJob(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	// Start frame 77 makes the fake renderer hang until it is killed.
	body := `{"frameRange": {"frame": 77}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`
	resp := startRender(t, ta.app, projectID, body)
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	resp = doRequest(t, ta.app, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "")
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("cancel result = %v", result)
	}
	if result["status"] != string(model.StatusCancelled) {
		t.Errorf("cancel status = %v", result["status"])
	}

	waitForJobStatus(t, ta.app, jobID, model.StatusCancelled)

	// A cancelled job stays cancelled; a second cancel has nothing to kill.
	resp = doRequest(t, ta.app, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "")
	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, resp, "VALIDATION_ERROR")
}

func TestCancelJob_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodPost, "/api/jobs/does-not-exist/cancel", "")
	assertStatus(t, resp, http.StatusNotFound)
	assertErrorCode(t, resp, "NOT_FOUND")
}

func TestCancelJob_AfterCompletion(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	body := `{"frameRange": {"frame": 1}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`
	resp := startRender(t, ta.app, projectID, body)
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	waitForJobStatus(t, ta.app, jobID, model.StatusCompleted)

	resp = doRequest(t, ta.app, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "")
	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, resp, "VALIDATION_ERROR")
}

func TestJobResults_EmptyBeforeRender(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	body := `{"frameRange": {"frame": 77}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`
	resp := startRender(t, ta.app, projectID, body)
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/results", "")
	assertStatus(t, resp, http.StatusOK)
	if body := readBody(t, resp); body != "[]" {
		t.Errorf("results before any frame = %s", body)
	}

	resp = doRequest(t, ta.app, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "")
	assertStatus(t, resp, http.StatusOK)
}

func TestJobLogs_NotFoundCases(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodGet, "/api/jobs/does-not-exist/logs", "")
	assertStatus(t, resp, http.StatusNotFound)

	// Known job whose log file was never written.
	projectID := createProject(t, ta.app)
	job := &model.Job{ID: "no-log-yet", ProjectID: projectID, Status: model.StatusPending}
	if err := ta.store.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/no-log-yet/logs", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestJobLogFileWritten(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	body := `{"frameRange": {"start": 1, "end": 3}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`
	resp := startRender(t, ta.app, projectID, body)
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	waitForJobStatus(t, ta.app, jobID, model.StatusCompleted)

	data, err := os.ReadFile(ta.ws.JobLogPath(jobID))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	for _, line := range []string{"Write Frame: 1", "Write Frame: 2", "Write Frame: 3"} {
		if !strings.Contains(string(data), line) {
			t.Errorf("log missing %q", line)
		}
	}
}
