package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/logging"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

// Pipeline stores each progress hook and then republishes it to live
// subscribers. Handle never fails and never panics; a lost update is logged.
type Pipeline struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger

	mu       sync.Mutex
	samplers map[string]*logging.DownloadSampler
}

// NewPipeline wires a pipeline to its store and publisher.
func NewPipeline(s store.Store, pub events.Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     s,
		publisher: pub,
		logger:    logger,
		samplers:  make(map[string]*logging.DownloadSampler),
	}
}

// Handle processes one raw hook for jobID.
func (p *Pipeline) Handle(ctx context.Context, jobID string, raw RawHook) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("progress handler panic", "job_id", jobID, "panic", fmt.Sprint(r))
		}
	}()

	snap := Parse(raw)
	ev := model.ProgressEvent{
		JobID:     jobID,
		Status:    model.JobStatusDownloading,
		RawStatus: snap.Status,
		Progress:  snap.Progress,
	}

	job, err := p.store.UpdateProgress(ctx, jobID, snap.Progress)
	switch {
	case err != nil:
		p.logger.Warn("progress write failed", "job_id", jobID, "error", err)
	case job.Status.IsTerminal():
		return
	default:
		ev.Status = job.Status
		ev.Progress = job.Progress
	}

	if err := p.publisher.Publish(ctx, jobID, ev); err != nil {
		p.logger.Warn("progress publish failed", "job_id", jobID, "error", err)
	}
	p.logSampled(jobID, ev)
}

// Forget drops per-job logging state once the job is done.
func (p *Pipeline) Forget(jobID string) {
	p.mu.Lock()
	delete(p.samplers, jobID)
	p.mu.Unlock()
}

func (p *Pipeline) logSampled(jobID string, ev model.ProgressEvent) {
	p.mu.Lock()
	sampler, ok := p.samplers[jobID]
	if !ok {
		sampler = logging.NewDownloadSampler(10, 16<<20)
		p.samplers[jobID] = sampler
	}
	emit := sampler.Sample(ev.RawStatus, ev.Progress)
	p.mu.Unlock()
	if !emit {
		return
	}

	attrs := []any{"job_id", jobID, "raw_status", ev.RawStatus, "downloaded", humanize.IBytes(uint64(max(ev.Progress.DownloadedBytes, 0)))}
	if ev.Progress.Percent != nil {
		attrs = append(attrs, "percent", *ev.Progress.Percent)
	}
	p.logger.Info("download progress", attrs...)
}
