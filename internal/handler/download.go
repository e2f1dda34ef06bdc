package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

type DownloadHandler struct {
	service   *service.DownloadService
	validator *validator.Validate
}

func NewDownloadHandler(svc *service.DownloadService, v *validator.Validate) *DownloadHandler {
	return &DownloadHandler{
		service:   svc,
		validator: v,
	}
}

// Check handles POST /download/check
func (h *DownloadHandler) Check(c *fiber.Ctx) error {
	var req model.CheckLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CheckLink(c.Context(), req.URL)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Info handles POST /download/info
func (h *DownloadHandler) Info(c *fiber.Ctx) error {
	var req model.CheckLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.GetInfo(c.Context(), req.URL)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Start handles POST /download/start
func (h *DownloadHandler) Start(c *fiber.Ctx) error {
	var req model.DownloadStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartDownload(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /download/status/:jobId
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /download/cancel/:jobId
func (h *DownloadHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// serviceError maps service errors onto the API error envelope.
func serviceError(c *fiber.Ctx, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return response.ValidationError(c, ve.Reason, nil)
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrFileMissing):
		return response.NotFound(c, "File not found")
	case errors.Is(err, service.ErrJobTerminal):
		return response.Conflict(c, "Job already completed")
	case errors.Is(err, service.ErrJobNotFinished):
		return response.Conflict(c, "Job not finished yet")
	case errors.Is(err, service.ErrEngine):
		return response.EngineError(c, "Could not extract video info")
	}
	return response.ServiceError(c, err.Error())
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
