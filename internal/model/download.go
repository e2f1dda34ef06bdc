package model

import "time"

// CheckLinkRequest is the body of POST /download/check and /download/info
type CheckLinkRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

// CheckLinkResponse reports whether a link can be downloaded
type CheckLinkResponse struct {
	Valid         bool     `json:"valid"`
	Platform      Platform `json:"platform"`
	NormalizedURL string   `json:"normalized_url,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// FormatCandidate is the best stream for one quality tier
type FormatCandidate struct {
	FormatID      string   `json:"format_id"`
	Quality       string   `json:"quality"`
	Height        int      `json:"height"`
	Ext           string   `json:"ext"`
	Progressive   bool     `json:"progressive"`
	VCodec        string   `json:"vcodec,omitempty"`
	ACodec        string   `json:"acodec,omitempty"`
	FilesizeBytes *int64   `json:"filesize_bytes,omitempty"`
	FilesizeHuman string   `json:"filesize_human,omitempty"`
	FPS           *float64 `json:"fps,omitempty"`
}

// VideoInfoResponse describes a video and its selectable formats
type VideoInfoResponse struct {
	Title       string            `json:"title,omitempty"`
	DurationSec *int64            `json:"duration_sec,omitempty"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	Platform    Platform          `json:"platform"`
	SourceURL   string            `json:"source_url"`
	Formats     []FormatCandidate `json:"formats"`
}

// DownloadStartRequest is the body of POST /download/start
type DownloadStartRequest struct {
	URL          string `json:"url" validate:"required,max=2048"`
	FormatID     string `json:"format_id" validate:"required,formatid"`
	Quality      string `json:"quality" validate:"omitempty,max=16"`
	FilenameHint string `json:"filename_hint" validate:"omitempty,max=200"`
}

// DownloadStartResponse is returned when a job has been queued
type DownloadStartResponse struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	StatusURL   string    `json:"status_url"`
	StreamURL   string    `json:"stream_url"`
	StreamToken string    `json:"stream_token,omitempty"`
	FileURL     *string   `json:"file_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobStatusResponse is the client-facing view of a job
type JobStatusResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Platform  Platform  `json:"platform"`
	SourceURL string    `json:"source_url"`
	FormatID  string    `json:"format_id,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	PublicURL string    `json:"public_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DownloadCancelResponse is returned by POST /download/cancel/:jobId
type DownloadCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}
