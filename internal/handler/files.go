package handler

import (
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

type FilesHandler struct {
	service *service.DownloadService
}

func NewFilesHandler(svc *service.DownloadService) *FilesHandler {
	return &FilesHandler{service: svc}
}

// Get handles GET /files/:jobId
func (h *FilesHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	path, err := h.service.FilePath(c.Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Download(path, filepath.Base(path))
}
