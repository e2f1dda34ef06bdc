package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

const pingInterval = 30 * time.Second

// JobLookup returns the current state of a job. *service.DownloadService
// satisfies it.
type JobLookup interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
}

// Hub relays job events from the bus to WebSocket clients
type Hub struct {
	bus    events.Subscriber
	jobs   JobLookup
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]int
}

// NewHub creates a new Hub
func NewHub(bus events.Subscriber, jobs JobLookup, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:     bus,
		jobs:    jobs,
		logger:  logger,
		clients: make(map[string]int),
	}
}

// Clients returns the number of open connections for a job
func (h *Hub) Clients(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[jobID]
}

func (h *Hub) track(jobID string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[jobID] += delta
	if h.clients[jobID] <= 0 {
		delete(h.clients, jobID)
	}
}

// Encode renders an event as a WebSocket text frame
func Encode(ev model.ProgressEvent) ([]byte, error) {
	return json.Marshal(model.WSEventMessage{
		Type:          model.WSMessageType(ev),
		ProgressEvent: ev,
	})
}

// EncodeError renders a lookup failure as an error frame
func EncodeError(jobID string, err error) ([]byte, error) {
	msg := model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		JobID:   jobID,
		Code:    response.CodeServiceError,
		Message: "Failed to load job",
	}
	if errors.Is(err, service.ErrJobNotFound) {
		msg.Code = response.CodeNotFound
		msg.Message = "Job not found"
	}
	return json.Marshal(msg)
}

// HandleConnection streams events for jobID until the job ends or the
// client goes away.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.track(jobID, 1)
	defer h.track(jobID, -1)

	// Subscribe before reading the job so no transition falls between the two.
	sub := h.bus.Subscribe(ctx, jobID)
	defer sub.Close()

	send := make(chan []byte, 16)

	// Reader loop
	go func() {
		defer cancel()
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("websocket read error", "job_id", jobID, "error", err)
				}
				return
			}

			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == model.WSMessageTypePing {
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				select {
				case send <- pong:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, service.ErrJobNotFound) {
			h.logger.Error("failed to load job", "job_id", jobID, "error", err)
		}
		if data, err := EncodeError(jobID, err); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
		c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}
	current := model.NewJobEvent(job)
	if !h.write(c, jobID, current) || current.Terminal() {
		c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !h.write(c, jobID, ev) {
				return
			}
			if ev.Terminal() {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

		case data := <-send:
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(c *websocket.Conn, jobID string, ev model.ProgressEvent) bool {
	data, err := Encode(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", "job_id", jobID, "error", err)
		return false
	}
	return c.WriteMessage(websocket.TextMessage, data) == nil
}
