package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Oldsnak/video-downloader-api/internal/auth"
	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/format"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/platform"
	"github.com/Oldsnak/video-downloader-api/internal/storage"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

// URLValidator rejects URLs that must not be fetched.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Options holds the request-independent settings of DownloadService.
type Options struct {
	AllowedDomains []string
	APIPrefix      string
	StreamSecret   string
	StreamTokenTTL time.Duration
}

// DownloadService validates download requests, creates jobs and serves their
// status. Execution happens in the worker.
type DownloadService struct {
	store      store.Store
	engine     engine.Engine
	guard      URLValidator
	files      *storage.Local
	dispatcher Dispatcher
	publisher  events.Publisher
	opts       Options
	logger     *slog.Logger
}

func NewDownloadService(
	s store.Store,
	eng engine.Engine,
	guard URLValidator,
	files *storage.Local,
	dispatcher Dispatcher,
	publisher events.Publisher,
	opts Options,
	logger *slog.Logger,
) *DownloadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadService{
		store:      s,
		engine:     eng,
		guard:      guard,
		files:      files,
		dispatcher: dispatcher,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
	}
}

// prepareURL normalizes raw, enforces the allow list and runs the SSRF check.
func (s *DownloadService) prepareURL(ctx context.Context, raw string) (string, model.Platform, error) {
	normalized, err := platform.Normalize(raw)
	if err != nil {
		return "", model.PlatformUnknown, invalid("Invalid URL.")
	}
	if !platform.IsAllowed(normalized, s.opts.AllowedDomains) {
		return normalized, platform.Classify(normalized), invalid("Domain is not allowed.")
	}
	if err := s.guard.Validate(ctx, normalized); err != nil {
		return normalized, platform.Classify(normalized), invalid(fmt.Sprintf("URL rejected: %v", err))
	}
	return normalized, platform.Classify(normalized), nil
}

// CheckLink reports whether a URL can be downloaded. A domain outside the
// allow list is a negative answer; a malformed or unsafe URL is an error.
func (s *DownloadService) CheckLink(ctx context.Context, raw string) (*model.CheckLinkResponse, error) {
	normalized, err := platform.Normalize(raw)
	if err != nil {
		return nil, invalid("Invalid URL.")
	}
	p := platform.Classify(normalized)
	if !platform.IsAllowed(normalized, s.opts.AllowedDomains) {
		return &model.CheckLinkResponse{
			Valid:         false,
			Platform:      p,
			NormalizedURL: normalized,
			Reason:        "Domain is not allowed.",
		}, nil
	}
	if err := s.guard.Validate(ctx, normalized); err != nil {
		return nil, invalid(fmt.Sprintf("URL rejected: %v", err))
	}
	return &model.CheckLinkResponse{
		Valid:         true,
		Platform:      p,
		NormalizedURL: normalized,
	}, nil
}

// GetInfo extracts metadata and the selectable formats of a URL.
func (s *DownloadService) GetInfo(ctx context.Context, raw string) (*model.VideoInfoResponse, error) {
	normalized, p, err := s.prepareURL(ctx, raw)
	if err != nil {
		return nil, err
	}

	info, err := s.engine.ExtractInfo(ctx, normalized)
	if err != nil {
		s.logger.Warn("extract info failed", "url", normalized, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	return &model.VideoInfoResponse{
		Title:       info.Title(),
		DurationSec: info.DurationSec(),
		Thumbnail:   info.Thumbnail(),
		Platform:    p,
		SourceURL:   normalized,
		Formats:     format.Select(s.engine.ListFormats(info)),
	}, nil
}

// StartDownload creates a queued job and hands it to the executor. If the
// hand-off fails the job stays queued and is still returned.
func (s *DownloadService) StartDownload(ctx context.Context, req *model.DownloadStartRequest) (*model.DownloadStartResponse, error) {
	if !ValidFormatID(req.FormatID) {
		return nil, invalid("Invalid format_id.")
	}
	normalized, p, err := s.prepareURL(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, model.JobSpec{
		SourceURL: normalized,
		Platform:  p,
		FormatID:  req.FormatID,
		Quality:   req.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Error("failed to dispatch job", "job_id", job.ID, "error", err)
	} else {
		s.logger.Info("job queued", "job_id", job.ID, "platform", p, "format_id", req.FormatID)
	}

	resp := &model.DownloadStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		StatusURL: fmt.Sprintf("%s/download/status/%s", s.opts.APIPrefix, job.ID),
		StreamURL: fmt.Sprintf("%s/download/stream/%s", s.opts.APIPrefix, job.ID),
		CreatedAt: job.CreatedAt,
	}
	if s.opts.StreamSecret != "" {
		token, err := auth.IssueStreamToken(s.opts.StreamSecret, job.ID, s.opts.StreamTokenTTL)
		if err != nil {
			s.logger.Warn("failed to issue stream token", "job_id", job.ID, "error", err)
		} else {
			resp.StreamToken = token
		}
	}
	return resp, nil
}

// GetJob returns the stored job.
func (s *DownloadService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetStatus returns the client view of a job.
func (s *DownloadService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Platform:  job.Platform,
		SourceURL: job.SourceURL,
		FormatID:  job.FormatID,
		Quality:   job.Quality,
		FilePath:  job.FilePath,
		PublicURL: job.PublicURL,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if !job.Progress.IsZero() {
		progress := job.Progress
		resp.Progress = &progress
	}
	if resp.PublicURL == "" && job.Status == model.JobStatusFinished {
		resp.PublicURL = s.files.PublicURL(job.ID)
	}
	return resp, nil
}

// Cancel moves a queued or running job to canceled and stops its task.
func (s *DownloadService) Cancel(ctx context.Context, jobID string) (*model.DownloadCancelResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}

	job, err = s.store.UpdateStatus(ctx, jobID, model.JobStatusCanceled, "")
	if err != nil {
		return nil, err
	}
	// Lost a race with the worker's terminal write.
	if job.Status != model.JobStatusCanceled {
		return nil, ErrJobTerminal
	}

	if err := s.dispatcher.Cancel(ctx, jobID); err != nil {
		s.logger.Warn("failed to stop task", "job_id", jobID, "error", err)
	}
	if err := s.publisher.Publish(ctx, jobID, model.NewJobEvent(job)); err != nil {
		s.logger.Warn("failed to publish cancel", "job_id", jobID, "error", err)
	}
	s.logger.Info("job canceled", "job_id", jobID)

	return &model.DownloadCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  job.Status,
	}, nil
}

// FilePath returns the output file of a finished job.
func (s *DownloadService) FilePath(ctx context.Context, jobID string) (string, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusFinished {
		return "", ErrJobNotFinished
	}

	if job.FilePath != "" && s.files.Contains(job.FilePath) {
		if info, err := os.Stat(job.FilePath); err == nil && info.Mode().IsRegular() {
			return job.FilePath, nil
		}
	}
	path, err := s.files.Find(job.ID)
	if err != nil {
		return "", ErrFileMissing
	}
	return path, nil
}

// Health reports the state of the service's dependencies.
func (s *DownloadService) Health(ctx context.Context) map[string]string {
	services := map[string]string{"store": "ok", "engine": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		services["store"] = "unavailable"
	}
	if err := s.engine.Available(ctx); err != nil {
		services["engine"] = "unavailable"
	}
	return services
}
