package worker

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/logging"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/progress"
	"github.com/Oldsnak/video-downloader-api/internal/security"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/internal/storage"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

type fakeResolver map[string]string

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ip, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

// scriptedEngine runs download for each Download call.
type scriptedEngine struct {
	calls    atomic.Int32
	download func(ctx context.Context, outputPath string, onProgress engine.ProgressFunc) (string, error)
}

func (e *scriptedEngine) ExtractInfo(context.Context, string) (engine.Info, error) {
	return engine.Info{}, nil
}

func (e *scriptedEngine) ListFormats(engine.Info) []map[string]any { return nil }

func (e *scriptedEngine) Download(ctx context.Context, _, _, outputPath string, onProgress engine.ProgressFunc) (string, error) {
	e.calls.Add(1)
	return e.download(ctx, outputPath, onProgress)
}

func (e *scriptedEngine) Available(context.Context) error { return nil }

type fixture struct {
	worker *DownloadWorker
	store  store.Store
	bus    *events.Bus
	files  *storage.Local
	engine *scriptedEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.Discard()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(64, logger)
	files := storage.NewLocal(t.TempDir(), "/api/v1")
	eng := &scriptedEngine{}
	guard := security.NewGuard(fakeResolver{
		"youtube.com":  "142.250.74.14",
		"internal.lan": "192.168.1.20",
	})
	pipeline := progress.NewPipeline(s, bus, logger)

	return &fixture{
		worker: NewDownloadWorker(s, eng, guard, files, pipeline, bus, logger),
		store:  s,
		bus:    bus,
		files:  files,
		engine: eng,
	}
}

func (f *fixture) createJob(t *testing.T, sourceURL string) *model.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), model.JobSpec{
		SourceURL: sourceURL,
		Platform:  model.PlatformYouTube,
		FormatID:  "18",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func task(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	tk, err := service.NewDownloadTask(jobID)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func drain(sub *events.Subscription) []model.ProgressEvent {
	var out []model.ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, "https://youtube.com/watch?v=abc")
	ctx := context.Background()
	sub := f.bus.Subscribe(ctx, job.ID)
	defer sub.Close()

	f.engine.download = func(_ context.Context, outputPath string, onProgress engine.ProgressFunc) (string, error) {
		onProgress(map[string]any{"status": "downloading", "downloaded_bytes": 250, "total_bytes": 1000})
		onProgress(map[string]any{"status": "downloading", "downloaded_bytes": 1000, "total_bytes": 1000})
		return outputPath, os.WriteFile(outputPath, []byte("video"), 0o644)
	}

	if err := f.worker.ProcessTask(ctx, task(t, job.ID)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	got, err := f.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobStatusFinished {
		t.Fatalf("status = %s", got.Status)
	}
	if filepath.Base(got.FilePath) != job.ID+".mp4" || got.PublicURL != "/api/v1/files/"+job.ID {
		t.Errorf("file = %q url = %q", got.FilePath, got.PublicURL)
	}
	if got.Progress.Percent == nil || *got.Progress.Percent != 100 {
		t.Errorf("percent = %v", got.Progress.Percent)
	}

	evs := drain(sub)
	if len(evs) < 2 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].Status != model.JobStatusDownloading {
		t.Errorf("first event = %s", evs[0].Status)
	}
	last := evs[len(evs)-1]
	if last.Status != model.JobStatusFinished || last.PublicURL == "" {
		t.Errorf("last event = %+v", last)
	}
}

func TestProcessTaskEngineFailure(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, "https://youtube.com/watch?v=abc")
	ctx := context.Background()

	var partial string
	f.engine.download = func(_ context.Context, outputPath string, _ engine.ProgressFunc) (string, error) {
		partial = outputPath + ".part"
		os.WriteFile(partial, []byte("half"), 0o644)
		return "", errors.New("HTTP Error 403: Forbidden")
	}

	err := f.worker.ProcessTask(ctx, task(t, job.ID))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}

	got, _ := f.store.Get(ctx, job.ID)
	if got.Status != model.JobStatusFailed || got.Error != "HTTP Error 403: Forbidden" {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Errorf("partial file not cleaned up: %v", err)
	}
}

func TestProcessTaskSkipsTerminalJob(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, "https://youtube.com/watch?v=abc")
	f.store.UpdateStatus(context.Background(), job.ID, model.JobStatusCanceled, "")

	if err := f.worker.ProcessTask(context.Background(), task(t, job.ID)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if n := f.engine.calls.Load(); n != 0 {
		t.Errorf("engine called %d times", n)
	}
}

func TestProcessTaskRejectsUnsafeURL(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, "https://internal.lan/video")

	err := f.worker.ProcessTask(context.Background(), task(t, job.ID))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
	got, _ := f.store.Get(context.Background(), job.ID)
	if got.Status != model.JobStatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if n := f.engine.calls.Load(); n != 0 {
		t.Errorf("engine called %d times", n)
	}
}

func TestProcessTaskCanceledMidDownload(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, "https://youtube.com/watch?v=abc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.engine.download = func(ctx context.Context, _ string, onProgress engine.ProgressFunc) (string, error) {
		onProgress(map[string]any{"status": "downloading", "downloaded_bytes": 10})
		f.store.UpdateStatus(context.Background(), job.ID, model.JobStatusCanceled, "")
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	if err := f.worker.ProcessTask(ctx, task(t, job.ID)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	got, _ := f.store.Get(context.Background(), job.ID)
	if got.Status != model.JobStatusCanceled {
		t.Errorf("status = %s", got.Status)
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	f := newFixture(t)

	err := f.worker.ProcessTask(context.Background(), asynq.NewTask(model.TaskTypeDownload, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want SkipRetry", err)
	}

	err = f.worker.ProcessTask(context.Background(), task(t, "6f1c2d3e-0000-4000-8000-000000000000"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("unknown job err = %v, want SkipRetry", err)
	}
}
