package handler

import (
	"bufio"
	"context"
	"errors"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/renderdeck/api/internal/logtail"
	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/render"
	"github.com/renderdeck/api/internal/service"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
	"github.com/renderdeck/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/projects/:projectId/render
// @Summary      Start render job
// @Description  Create a job for the project and launch the render process; only one render runs at a time
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.RenderSettings true "Render settings"
// @Success      202 {object} model.Job
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/projects/{projectId}/render [post]
func (h *JobHandler) Start(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var settings model.RenderSettings
	if err := c.BodyParser(&settings); err != nil {
		if errors.Is(err, model.ErrAmbiguousFrameSpec) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&settings); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if err := settings.Validate(); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	job, err := h.service.StartRender(c.Context(), projectID, &settings)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Project not found")
		case errors.Is(err, workspace.ErrArchiveNotFound):
			return response.NotFound(c, "Project archive not found")
		case errors.Is(err, render.ErrBusy):
			return response.Conflict(c, "Service is busy. Try later.")
		case errors.Is(err, render.ErrAlreadyRendering):
			return response.Conflict(c, "Job is already rendering")
		case errors.Is(err, workspace.ErrSceneNotFound), errors.Is(err, workspace.ErrSceneAmbiguous):
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, job)
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Current job record including render progress when available
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Get(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// Cancel handles POST /api/jobs/:jobId/cancel
// @Summary      Cancel job
// @Description  Kill the job's render process; only meaningful while the job is rendering
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, render.ErrNotRendering):
			return response.ValidationError(c, "Job is not rendering", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Results handles GET /api/jobs/:jobId/results
// @Summary      List job results
// @Description  Enumerate files produced under the job's render output directory
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {array} model.RenderResult
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/results [get]
func (h *JobHandler) Results(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	results, err := h.service.Results(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, results)
}

// Logs handles GET /api/jobs/:jobId/logs
// @Summary      Stream job logs
// @Description  Continuous text stream: existing log lines first, then new lines as the renderer writes them
// @Tags         Jobs
// @Produce      plain
// @Param        jobId path string true "Job ID"
// @Success      200 {string} string "chunked log stream"
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/logs [get]
func (h *JobHandler) Logs(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	logPath, err := h.service.LogPath(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	if _, err := os.Stat(logPath); err != nil {
		return response.NotFound(c, "Log file not found. Try later.")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		follower := logtail.New(logPath)
		// The stream is unbounded; it ends when the client goes away and
		// the flush starts failing.
		_ = follower.Follow(context.Background(), func(line string) error {
			if _, err := w.WriteString(line); err != nil {
				return err
			}
			return w.Flush()
		})
	})
	return nil
}
