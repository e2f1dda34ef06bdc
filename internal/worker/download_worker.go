package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/progress"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/internal/storage"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

// DownloadWorker executes download jobs
type DownloadWorker struct {
	store     store.Store
	engine    engine.Engine
	guard     service.URLValidator
	files     *storage.Local
	pipeline  *progress.Pipeline
	publisher events.Publisher
	feedSize  int
	logger    *slog.Logger
}

// NewDownloadWorker creates a new download worker
func NewDownloadWorker(
	s store.Store,
	eng engine.Engine,
	guard service.URLValidator,
	files *storage.Local,
	pipeline *progress.Pipeline,
	publisher events.Publisher,
	logger *slog.Logger,
) *DownloadWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadWorker{
		store:     s,
		engine:    eng,
		guard:     guard,
		files:     files,
		pipeline:  pipeline,
		publisher: publisher,
		feedSize:  progress.DefaultFeedSize,
		logger:    logger,
	}
}

// ProcessTask handles download task processing
func (w *DownloadWorker) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	var payload model.DownloadJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.JobID == "" {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID
	logger := w.logger.With("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("download worker panic", "panic", fmt.Sprint(r))
			w.fail(ctx, jobID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("panic: %v: %w", r, asynq.SkipRetry)
		}
	}()

	job, err := w.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %s: %w", jobID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.IsTerminal() {
		logger.Info("job already terminal, skipping", "status", job.Status)
		return nil
	}

	if err := w.guard.Validate(ctx, job.SourceURL); err != nil {
		w.fail(ctx, jobID, fmt.Sprintf("URL rejected: %v", err))
		return fmt.Errorf("unsafe url: %w", asynq.SkipRetry)
	}

	job, err = w.store.UpdateStatus(ctx, jobID, model.JobStatusDownloading, "")
	if err != nil {
		return fmt.Errorf("failed to mark downloading: %w", err)
	}
	if job.Status != model.JobStatusDownloading {
		// Canceled between the read and the transition.
		logger.Info("job left queue before start", "status", job.Status)
		return nil
	}
	w.publish(ctx, job)
	logger.Info("download started", "url", job.SourceURL, "format_id", job.FormatID)

	w.files.CleanupJobFiles(jobID)
	outputPath, err := w.files.OutputPath(jobID, job.Ext)
	if err != nil {
		w.fail(ctx, jobID, err.Error())
		return fmt.Errorf("output path: %w", asynq.SkipRetry)
	}

	feed := progress.NewFeed(ctx, w.pipeline, w.feedSize)
	finalPath, dlErr := w.engine.Download(ctx, job.SourceURL, job.FormatID, outputPath, func(hook map[string]any) {
		feed.Push(jobID, progress.RawHook(hook))
	})
	// Every hook lands before the terminal write.
	feed.Close()
	w.pipeline.Forget(jobID)

	if dlErr != nil {
		return w.handleDownloadError(ctx, jobID, dlErr)
	}

	finalPath, err = w.resolveOutput(jobID, finalPath)
	if err != nil {
		w.fail(ctx, jobID, "download produced no file")
		return fmt.Errorf("no output file: %w", asynq.SkipRetry)
	}

	done, err := w.store.SetOutput(context.WithoutCancel(ctx), jobID, finalPath, w.files.PublicURL(jobID))
	if err != nil {
		w.files.CleanupJobFiles(jobID)
		return fmt.Errorf("failed to record output: %w", err)
	}
	if done.Status != model.JobStatusFinished {
		logger.Info("job ended before output was recorded", "status", done.Status)
		w.files.CleanupJobFiles(jobID)
		return nil
	}
	w.publish(ctx, done)

	logger.Info("download finished", "file", finalPath)
	return nil
}

// resolveOutput prefers the path reported by the engine and falls back to
// whatever <job_id>.* file it left in the download directory.
func (w *DownloadWorker) resolveOutput(jobID, reported string) (string, error) {
	if reported != "" && w.files.Contains(reported) {
		if info, err := os.Stat(reported); err == nil && info.Mode().IsRegular() {
			return reported, nil
		}
	}
	return w.files.Find(jobID)
}

func (w *DownloadWorker) handleDownloadError(ctx context.Context, jobID string, dlErr error) error {
	logger := w.logger.With("job_id", jobID)

	if ctx.Err() != nil {
		job, err := w.store.Get(context.WithoutCancel(ctx), jobID)
		if err == nil && job.Status == model.JobStatusCanceled {
			logger.Info("download canceled")
			w.files.CleanupJobFiles(jobID)
			return nil
		}
		// Shutdown or deadline: leave the job for asynq to requeue.
		logger.Warn("download interrupted", "error", ctx.Err())
		w.files.CleanupJobFiles(jobID)
		return ctx.Err()
	}

	logger.Error("download failed", "error", dlErr)
	w.fail(ctx, jobID, dlErr.Error())
	return fmt.Errorf("download failed: %v: %w", dlErr, asynq.SkipRetry)
}

// fail records a terminal failure, publishes it and purges partial files.
func (w *DownloadWorker) fail(ctx context.Context, jobID, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	job, err := w.store.UpdateStatus(ctx, jobID, model.JobStatusFailed, errMsg)
	if err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", jobID, "error", err)
	} else {
		w.publish(ctx, job)
	}
	w.files.CleanupJobFiles(jobID)
}

func (w *DownloadWorker) publish(ctx context.Context, job *model.Job) {
	if err := w.publisher.Publish(context.WithoutCancel(ctx), job.ID, model.NewJobEvent(job)); err != nil {
		w.logger.Warn("failed to publish job event", "job_id", job.ID, "error", err)
	}
}
