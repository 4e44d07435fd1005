package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/config"
	"github.com/renderdeck/api/internal/handler"
	"github.com/renderdeck/api/internal/middleware"
	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/render"
	"github.com/renderdeck/api/internal/service"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
	"github.com/renderdeck/api/pkg/response"
)

// fakeRenderer stands in for the real renderer binary. It honors the argument
// contract, writes one frame line and one file per frame, then lingers a
// moment so concurrent requests can observe the busy slot. Start frame 99
// exits nonzero; start frame 77 hangs until killed.
const fakeRenderer = `#!/bin/sh
RANGE=""
OUT=""
while [ $# -gt 0 ]; do
	case "$1" in
	--frame-range) RANGE="$2"; shift 2 ;;
	--output-dir) OUT="$2"; shift 2 ;;
	*) shift ;;
	esac
done
case "$RANGE" in
*,*) START=${RANGE%,*}; END=${RANGE#*,} ;;
*) START=$RANGE; END=$RANGE ;;
esac
if [ "$START" = "99" ]; then
	echo "renderer crash"
	exit 1
fi
if [ "$START" = "77" ]; then
	sleep 300
fi
i=$START
while [ $i -le $END ]; do
	echo "Write Frame: $i"
	: > "$OUT/frame_$i.png"
	i=$((i+1))
done
sleep 1
`

// testApp wires the full HTTP surface the way main.go does, minus the pieces
// that need external infrastructure: the record store is in-memory, the rate
// limiter has no backend, auth is disabled and the renderer is a shell script.
type testApp struct {
	app   *fiber.App
	ws    *workspace.Manager
	store *store.Store
	coord *render.Coordinator
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()

	bin := filepath.Join(dir, "blender")
	if err := os.WriteFile(bin, []byte(fakeRenderer), 0o755); err != nil {
		t.Fatal(err)
	}

	logger := zerolog.Nop()
	st := store.New(store.NewMemKV(), time.Hour)
	ws := workspace.NewManager(filepath.Join(dir, "data"), filepath.Join(dir, "logs"))
	lifecycle := service.NewLifecycle(st, logger)
	coord := render.NewCoordinator(st, ws, lifecycle, &config.RenderConfig{
		BlenderBin: bin,
		ScriptPath: filepath.Join(dir, "render.py"),
	}, nil, logger)

	projectService := service.NewProjectService(st, ws, logger)
	jobService := service.NewJobService(st, ws, coord, "/media", logger)

	validate := validator.New()
	projectHandler := handler.NewProjectHandler(projectService, validate)
	jobHandler := handler.NewJobHandler(jobService, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return response.Error(c, code, response.CodeServiceError, message, nil)
		},
		BodyLimit: 250 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		activeJob, _, rendering := coord.Active()
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":     false,
				"artifacts": false,
			},
			"rendering": rendering,
			"activeJob": activeJob,
		})
	})
	app.Static("/media", filepath.Join(dir, "data"))

	rateLimiter := middleware.NewRateLimiter(nil)

	api := app.Group("/api")
	projects := api.Group("/projects")
	projects.Post("/", rateLimiter.UploadLimit(100), projectHandler.Upload)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Post("/:projectId/render", rateLimiter.StartLimit(100), jobHandler.Start)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)
	jobs.Get("/:jobId/logs", jobHandler.Logs)
	jobs.Get("/:jobId/results", jobHandler.Results)

	return &testApp{app: app, ws: ws, store: st, coord: coord}
}

// buildZip assembles an in-memory zip with the given file names.
func buildZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("BLENDER")); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// uploadArchive posts a multipart archive upload with an explicit part
// content type.
func uploadArchive(t *testing.T, app *fiber.App, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="archive"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/projects", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// createProject uploads a valid single-scene archive and returns its ID.
func createProject(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := uploadArchive(t, app, "scene.zip", "application/zip", buildZip(t, "scene.blend"))
	assertStatus(t, resp, http.StatusCreated)
	body := parseJSON(t, resp)
	id, _ := body["projectId"].(string)
	if id == "" {
		t.Fatalf("upload returned no project ID: %v", body)
	}
	return id
}

// startRender posts render settings for a project and returns the response.
func startRender(t *testing.T, app *fiber.App, projectID, body string) *http.Response {
	t.Helper()
	return doRequest(t, app, http.MethodPost, "/api/projects/"+projectID+"/render", body)
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// waitForJobStatus polls the status endpoint until the job reaches want.
func waitForJobStatus(t *testing.T, app *fiber.App, jobID string, want model.Status) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp := doRequest(t, app, http.MethodGet, "/api/jobs/"+jobID, "")
		assertStatus(t, resp, http.StatusOK)
		last = parseJSON(t, resp)
		if status, _ := last["status"].(string); status == string(want) {
			return last
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s, last: %v", jobID, want, last)
	return nil
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	body := parseJSON(t, resp)
	detail, _ := body["error"].(map[string]interface{})
	if code, _ := detail["code"].(string); code != expected {
		t.Errorf("expected error code %s, got %v", expected, body)
	}
}
