package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/service"
)

const keepAliveInterval = 15 * time.Second

// StreamHandler serves job events as server-sent events.
type StreamHandler struct {
	service *service.DownloadService
	bus     events.Subscriber
	logger  *slog.Logger
}

func NewStreamHandler(svc *service.DownloadService, bus events.Subscriber, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{service: svc, bus: bus, logger: logger}
}

// Stream handles GET /download/stream/:jobId
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	// Subscribe before reading the job so no transition falls between the two.
	ctx, cancel := context.WithCancel(context.Background())
	sub := h.bus.Subscribe(ctx, jobID)

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		sub.Close()
		cancel()
		return serviceError(c, err)
	}
	current := model.NewJobEvent(job)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		if !h.writeEvent(w, current) || current.Terminal() {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if !h.writeEvent(w, ev) || ev.Terminal() {
					return
				}
			case <-ticker.C:
				// A failed flush means the client went away.
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

func (h *StreamHandler) writeEvent(w *bufio.Writer, ev model.ProgressEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", "job_id", ev.JobID, "error", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	return w.Flush() == nil
}
