package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/service"
	"github.com/clipcast/publisher/pkg/response"
)

type PublishHandler struct {
	service   *service.PublishService
	validator *validator.Validate
}

func NewPublishHandler(svc *service.PublishService, v *validator.Validate) *PublishHandler {
	return &PublishHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/publish
// @Summary      Publish an artifact
// @Description  Queue a publish job for an object already in the ingest bucket
// @Tags         Publish
// @Accept       json
// @Produce      json
// @Param        request body model.PublishRequest true "Publish request"
// @Success      202 {object} model.PublishAcceptedResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/publish [post]
func (h *PublishHandler) Start(c *fiber.Ctx) error {
	var req model.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	evt := model.ObjectFinalizedEvent{
		Bucket: req.Bucket,
		Name:   req.Object,
	}

	result, err := h.service.StartPublish(c.Context(), evt, req.Targets)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/publish/status/:jobId
// @Summary      Get publish job status
// @Description  Get the pipeline state of a publish job
// @Tags         Publish
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.PublishStatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/publish/status/{jobId} [get]
func (h *PublishHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/publish/result/:jobId
// @Summary      Get publish job outcome
// @Description  Get the per-target attempt outcomes of a finished publish job
// @Tags         Publish
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobOutcome
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/publish/result/{jobId} [get]
func (h *PublishHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	if !job.State.IsTerminal() {
		return response.ValidationError(c, "Job not completed yet", nil)
	}
	if job.Outcome == nil {
		message := "Job failed before producing an outcome"
		if job.Error != nil {
			message = *job.Error
		}
		return response.Conflict(c, response.CodeJobFailed, message)
	}

	return response.OK(c, job.Outcome)
}

// Scan handles POST /api/publish/scan
// @Summary      Scan for unpublished artifacts
// @Description  Sweep the ingest prefix and queue publish jobs for artifacts without a publish marker
// @Tags         Publish
// @Accept       json
// @Produce      json
// @Param        request body model.ScanRequest false "Scan options"
// @Success      200 {object} model.ScanResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/publish/scan [post]
func (h *PublishHandler) Scan(c *fiber.Ctx) error {
	var req model.ScanRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	result, err := h.service.Scan(c.Context(), req.IgnoreWindow)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
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
