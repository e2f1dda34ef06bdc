package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

func progressEvent(jobID string, n int64) model.ProgressEvent {
	return model.ProgressEvent{
		JobID:    jobID,
		Status:   model.JobStatusDownloading,
		Progress: model.Progress{DownloadedBytes: n},
	}
}

func recv(t *testing.T, ch <-chan model.ProgressEvent) (model.ProgressEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.ProgressEvent{}, false
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(10, nil)
	sub := bus.Subscribe(context.Background(), "job-1")
	defer sub.Close()

	for i := int64(1); i <= 3; i++ {
		bus.Publish(context.Background(), "job-1", progressEvent("job-1", i))
	}
	for i := int64(1); i <= 3; i++ {
		ev, ok := recv(t, sub.Events())
		if !ok || ev.Progress.DownloadedBytes != i {
			t.Fatalf("event %d = %+v (ok=%v)", i, ev, ok)
		}
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(2, nil)
	slow := bus.Subscribe(context.Background(), "job")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 50; i++ {
			bus.Publish(context.Background(), "job", progressEvent("job", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full mailbox")
	}
	if bus.Dropped() != 48 {
		t.Fatalf("Dropped = %d, want 48", bus.Dropped())
	}
}

func TestTerminalEventClosesMailbox(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe(context.Background(), "job")
	defer sub.Close()

	bus.Publish(context.Background(), "job", progressEvent("job", 1))
	bus.Publish(context.Background(), "job", model.ProgressEvent{JobID: "job", Status: model.JobStatusFinished, PublicURL: "/files/job"})

	ev, ok := recv(t, sub.Events())
	if !ok || ev.Status != model.JobStatusFinished {
		t.Fatalf("expected terminal event to replace stale progress, got %+v (ok=%v)", ev, ok)
	}
	if _, ok := recv(t, sub.Events()); ok {
		t.Fatal("mailbox still open after terminal event")
	}
	if bus.Jobs() != 0 {
		t.Fatalf("Jobs = %d after terminal event", bus.Jobs())
	}
}

func TestDisconnectReclaimsEntry(t *testing.T) {
	bus := NewBus(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, "job-x")

	for i := int64(0); i < 3; i++ {
		bus.Publish(context.Background(), "job-x", progressEvent("job-x", i))
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for bus.Subscribers("job-x") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("mailbox not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if bus.Jobs() != 0 {
		t.Fatalf("Jobs = %d, want 0", bus.Jobs())
	}

	// Buffered events remain readable, then the feed ends.
	n := 0
	for range sub.Events() {
		n++
	}
	if n != 3 {
		t.Fatalf("drained %d events, want 3", n)
	}
	sub.Close()
}

func TestCloseKeepsOtherSubscribers(t *testing.T) {
	bus := NewBus(10, nil)
	a := bus.Subscribe(context.Background(), "job")
	b := bus.Subscribe(context.Background(), "job")
	a.Close()

	if got := bus.Subscribers("job"); got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}
	bus.Publish(context.Background(), "job", progressEvent("job", 7))
	if ev, ok := recv(t, b.Events()); !ok || ev.Progress.DownloadedBytes != 7 {
		t.Fatalf("remaining subscriber got %+v", ev)
	}
	b.Close()
	if bus.Jobs() != 0 {
		t.Fatalf("Jobs = %d, want 0", bus.Jobs())
	}
}

func TestJobsAreIsolated(t *testing.T) {
	bus := NewBus(10, nil)
	a := bus.Subscribe(context.Background(), "a")
	b := bus.Subscribe(context.Background(), "b")
	defer a.Close()
	defer b.Close()

	bus.Publish(context.Background(), "a", progressEvent("a", 1))
	bus.Publish(context.Background(), "b", progressEvent("b", 2))

	if ev, _ := recv(t, a.Events()); ev.JobID != "a" {
		t.Fatalf("subscriber a got %+v", ev)
	}
	if ev, _ := recv(t, b.Events()); ev.JobID != "b" {
		t.Fatalf("subscriber b got %+v", ev)
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("subscriber a saw foreign event %+v", ev)
	default:
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus(4, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			sub := bus.Subscribe(ctx, "job")
			cancel()
			sub.Close()
		}()
		go func(n int64) {
			defer wg.Done()
			bus.Publish(context.Background(), "job", progressEvent("job", n))
		}(int64(i))
	}
	wg.Wait()
	if bus.Jobs() != 0 {
		t.Fatalf("Jobs = %d, want 0", bus.Jobs())
	}
}
