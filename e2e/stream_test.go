package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Oldsnak/video-downloader-api/internal/auth"
	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// finishJob drives a job to finished with a file on disk.
func (ta *testApp) finishJob(t *testing.T, job *model.Job) string {
	t.Helper()
	ctx := context.Background()
	path, err := ta.files.OutputPath(job.ID, "mp4")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}
	ta.store.UpdateStatus(ctx, job.ID, model.JobStatusDownloading, "")
	if _, err := ta.store.SetOutput(ctx, job.ID, path, ta.files.PublicURL(job.ID)); err != nil {
		t.Fatal(err)
	}
	return path
}

func sseEvents(t *testing.T, body string) []model.ProgressEvent {
	t.Helper()
	var out []model.ProgressEvent
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev model.ProgressEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestStream_TerminalJobEndsImmediately(t *testing.T) {
	ta := setupApp(t)
	job := ta.createJob(t)
	ta.finishJob(t, job)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/v1/download/stream/"+job.ID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	evs := sseEvents(t, readBody(t, resp))
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Status != model.JobStatusFinished || evs[0].PublicURL != "/api/v1/files/"+job.ID {
		t.Errorf("event = %+v", evs[0])
	}
}

func TestStream_RelaysUntilTerminal(t *testing.T) {
	ta := setupApp(t)
	job := ta.createJob(t)
	ctx := context.Background()

	go func() {
		// Wait for the stream to subscribe.
		deadline := time.Now().Add(2 * time.Second)
		for ta.bus.Subscribers(job.ID) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		running, _ := ta.store.UpdateStatus(ctx, job.ID, model.JobStatusDownloading, "")
		ta.bus.Publish(ctx, job.ID, model.NewJobEvent(running))
		failed, _ := ta.store.UpdateStatus(ctx, job.ID, model.JobStatusFailed, "HTTP Error 404")
		ta.bus.Publish(ctx, job.ID, model.NewJobEvent(failed))
	}()

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/v1/download/stream/"+job.ID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	// The opening snapshot may already include the first transition.
	evs := sseEvents(t, readBody(t, resp))
	if len(evs) == 0 {
		t.Fatal("no events")
	}
	rank := map[model.JobStatus]int{model.JobStatusQueued: 0, model.JobStatusDownloading: 1, model.JobStatusFailed: 2}
	for i := 1; i < len(evs); i++ {
		if rank[evs[i].Status] < rank[evs[i-1].Status] {
			t.Errorf("events out of order: %+v", evs)
		}
	}
	last := evs[len(evs)-1]
	if last.Status != model.JobStatusFailed || last.Error != "HTTP Error 404" {
		t.Errorf("last event = %+v", last)
	}
	if n := ta.bus.Jobs(); n != 0 {
		t.Errorf("bus still tracks %d jobs", n)
	}
}

func TestStream_TokenAuth(t *testing.T) {
	ta := setupApp(t)
	job := ta.createJob(t)
	ta.finishJob(t, job)

	token, err := auth.IssueStreamToken(testAPIKey, job.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := doRequest(ta.app, http.MethodGet, "/api/v1/download/stream/"+job.ID+"?token="+token, "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	resp, err = doRequest(ta.app, http.MethodGet, "/api/v1/download/stream/"+job.ID, "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestStream_UnknownJob(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/v1/download/stream/7d1e4c5a-1f2b-4c3d-8e9f-0a1b2c3d4e5f", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	if n := ta.bus.Jobs(); n != 0 {
		t.Errorf("bus still tracks %d jobs", n)
	}
}
