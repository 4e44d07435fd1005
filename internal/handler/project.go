package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/renderdeck/api/internal/service"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/pkg/response"
)

const maxArchiveSize = 200 * 1024 * 1024 // 200MB

var zipContentTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
}

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// Upload handles POST /api/projects
// @Summary      Upload project archive
// @Description  Upload a zipped scene project; the archive is staged on disk for later renders
// @Tags         Projects
// @Accept       multipart/form-data
// @Produce      json
// @Param        archive formData file true "Zip archive containing the scene and its assets"
// @Success      201 {object} model.Project
// @Failure      400 {object} response.ErrorResponse
// @Router       /api/projects [post]
func (h *ProjectHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("archive")
	if err != nil {
		return response.ValidationError(c, "Zip file is required", nil)
	}

	if file.Size > maxArchiveSize {
		return response.ValidationError(c, "Archive exceeds 200MB limit", map[string]interface{}{
			"maxSize":  maxArchiveSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if !zipContentTypes[contentType] || !strings.HasSuffix(strings.ToLower(file.Filename), ".zip") {
		return response.ValidationError(c, "Zip file is required", map[string]interface{}{
			"contentType": contentType,
		})
	}

	src, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open uploaded file")
	}
	defer src.Close()

	project, err := h.service.Create(c.Context(), file.Filename, src)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, project)
}

// Get handles GET /api/projects/:projectId
// @Summary      Get project
// @Tags         Projects
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Success      200 {object} model.Project
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/projects/{projectId} [get]
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	project, err := h.service.Get(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Project not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, project)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
