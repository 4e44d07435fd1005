package e2e

import (
	"net/http"
	"strings"
	"testing"

	"github.com/renderdeck/api/internal/model"
)

const rangeSettings = `{
	"frameRange": {"start": 1, "end": 5},
	"resolutionX": 1920,
	"resolutionY": 1080,
	"outputFormat": "PNG (8 bit)",
	"engine": "CYCLES"
}`

func TestRenderFlow_UploadStartPollResults(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	resp := startRender(t, ta.app, projectID, rangeSettings)
	assertStatus(t, resp, http.StatusAccepted)
	job := parseJSON(t, resp)
	jobID, _ := job["jobId"].(string)
	if jobID == "" {
		t.Fatal("no job ID returned")
	}
	if job["status"] != string(model.StatusRendering) {
		t.Errorf("status after start = %v", job["status"])
	}

	final := waitForJobStatus(t, ta.app, jobID, model.StatusCompleted)
	progress, _ := final["renderProgress"].(map[string]interface{})
	if progress == nil {
		t.Fatal("no progress in final job record")
	}
	if progress["currentFrame"] != float64(5) || progress["remainingFrames"] != float64(0) {
		t.Errorf("progress = %v", progress)
	}

	resp = doRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID+"/results", "")
	assertStatus(t, resp, http.StatusOK)
	body := readBody(t, resp)
	for _, frame := range []string{"frame_1.png", "frame_2.png", "frame_3.png", "frame_4.png", "frame_5.png"} {
		if !strings.Contains(body, frame) {
			t.Errorf("results missing %s: %s", frame, body)
		}
	}
	if !strings.Contains(body, "/media/"+projectID+"/"+jobID+"/rendered/") {
		t.Errorf("results not served under media prefix: %s", body)
	}
}

func TestStartRender_SecondRequestIsRejectedWhileBusy(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	resp := startRender(t, ta.app, projectID, rangeSettings)
	assertStatus(t, resp, http.StatusAccepted)
	job := parseJSON(t, resp)
	jobID, _ := job["jobId"].(string)

	resp = startRender(t, ta.app, projectID, rangeSettings)
	assertStatus(t, resp, http.StatusConflict)
	assertErrorCode(t, resp, "CONFLICT")

	// Once the first render finishes the slot is free again.
	waitForJobStatus(t, ta.app, jobID, model.StatusCompleted)
	resp = startRender(t, ta.app, projectID, rangeSettings)
	assertStatus(t, resp, http.StatusAccepted)
}

func TestStartRender_UnknownProject(t *testing.T) {
	ta := setupApp(t)

	resp := startRender(t, ta.app, "does-not-exist", rangeSettings)
	assertStatus(t, resp, http.StatusNotFound)
	assertErrorCode(t, resp, "NOT_FOUND")
}

func TestStartRender_AmbiguousScene(t *testing.T) {
	ta := setupApp(t)

	resp := uploadArchive(t, ta.app, "scene.zip", "application/zip", buildZip(t, "a.blend", "b.blend"))
	assertStatus(t, resp, http.StatusCreated)
	projectID, _ := parseJSON(t, resp)["projectId"].(string)

	resp = startRender(t, ta.app, projectID, rangeSettings)
	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, resp, "VALIDATION_ERROR")
}

func TestStartRender_ValidationFailures(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	cases := []struct {
		name string
		body string
	}{
		{
			name: "ambiguous frame selection",
			body: `{"frameRange": {"frame": 2, "start": 1, "end": 5}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`,
		},
		{
			name: "inverted frame range",
			body: `{"frameRange": {"start": 5, "end": 1}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`,
		},
		{
			name: "missing resolution",
			body: `{"frameRange": {"frame": 1}, "outputFormat": "JPEG", "engine": "CYCLES"}`,
		},
		{
			name: "unknown engine",
			body: `{"frameRange": {"frame": 1}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "LUXRENDER"}`,
		},
		{
			name: "unknown output format",
			body: `{"frameRange": {"frame": 1}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "BMP", "engine": "CYCLES"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := startRender(t, ta.app, projectID, tc.body)
			assertStatus(t, resp, http.StatusBadRequest)
			assertErrorCode(t, resp, "VALIDATION_ERROR")
		})
	}
}

func TestStartRender_FailedRenderKeepsRecord(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta.app)

	// Start frame 99 makes the fake renderer exit nonzero.
	body := `{"frameRange": {"frame": 99}, "resolutionX": 100, "resolutionY": 100, "outputFormat": "JPEG", "engine": "CYCLES"}`
	resp := startRender(t, ta.app, projectID, body)
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)

	final := waitForJobStatus(t, ta.app, jobID, model.StatusFailed)
	errMsg, _ := final["error"].(string)
	if !strings.Contains(errMsg, "renderer exited") {
		t.Errorf("failure reason = %q", errMsg)
	}
}
