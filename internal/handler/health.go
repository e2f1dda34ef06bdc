package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

type HealthHandler struct {
	service *service.DownloadService
}

func NewHealthHandler(svc *service.DownloadService) *HealthHandler {
	return &HealthHandler{service: svc}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := h.service.Health(c.Context())

	status := "ok"
	for _, state := range services {
		if state != "ok" {
			status = "degraded"
		}
	}

	return response.OK(c, model.HealthResponse{
		Status:   status,
		Services: services,
	})
}
