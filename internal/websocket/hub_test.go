package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/logging"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		ev       model.ProgressEvent
		wantType string
	}{
		{"progress", model.ProgressEvent{JobID: "j", Status: model.JobStatusDownloading}, model.WSMessageTypeProgress},
		{"finished", model.ProgressEvent{JobID: "j", Status: model.JobStatusFinished, PublicURL: "/api/v1/files/j"}, model.WSMessageTypeComplete},
		{"failed", model.ProgressEvent{JobID: "j", Status: model.JobStatusFailed, Error: "boom"}, model.WSMessageTypeError},
		{"canceled", model.ProgressEvent{JobID: "j", Status: model.JobStatusCanceled}, model.WSMessageTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.ev)
			if err != nil {
				t.Fatal(err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got["type"] != tt.wantType || got["job_id"] != "j" || got["status"] != string(tt.ev.Status) {
				t.Errorf("frame = %s", data)
			}
			if _, ok := got["progress"]; !ok {
				t.Error("frame has no progress object")
			}
		})
	}
}

func TestEncodeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"unknown job", service.ErrJobNotFound, response.CodeNotFound},
		{"wrapped unknown job", fmt.Errorf("lookup: %w", service.ErrJobNotFound), response.CodeNotFound},
		{"store failure", errors.New("disk full"), response.CodeServiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeError("j", tt.err)
			if err != nil {
				t.Fatal(err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got["type"] != model.WSMessageTypeError || got["job_id"] != "j" || got["code"] != tt.wantCode {
				t.Errorf("frame = %s", data)
			}
			if _, ok := got["status"]; ok {
				t.Errorf("error frame carries a job status: %s", data)
			}
		})
	}
}

func TestClientTracking(t *testing.T) {
	h := NewHub(events.NewBus(4, logging.Discard()), nil, logging.Discard())

	h.track("a", 1)
	h.track("a", 1)
	h.track("b", 1)
	if h.Clients("a") != 2 || h.Clients("b") != 1 {
		t.Fatalf("clients = %d/%d", h.Clients("a"), h.Clients("b"))
	}

	h.track("a", -1)
	h.track("a", -1)
	if h.Clients("a") != 0 {
		t.Errorf("clients(a) = %d", h.Clients("a"))
	}
	if _, ok := h.clients["a"]; ok {
		t.Error("entry for a not reclaimed")
	}
}
