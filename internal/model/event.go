package model

// ProgressEvent is a live update delivered to stream subscribers.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	RawStatus string    `json:"raw_status,omitempty"`
	Progress  Progress  `json:"progress"`
	PublicURL string    `json:"public_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Terminal reports whether the event closes the job's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status.IsTerminal()
}

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSEventMessage wraps a progress event for WebSocket delivery
type WSEventMessage struct {
	Type string `json:"type"`
	ProgressEvent
}

// WSErrorMessage reports a failure that is not a job transition, such as a
// job id that does not exist.
type WSErrorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSMessageType maps an event to the WebSocket message type it is sent as.
func WSMessageType(e ProgressEvent) string {
	switch e.Status {
	case JobStatusFinished:
		return WSMessageTypeComplete
	case JobStatusFailed, JobStatusCanceled:
		return WSMessageTypeError
	}
	return WSMessageTypeProgress
}

// NewJobEvent builds the live event describing job's current state.
func NewJobEvent(job *Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	}
	switch job.Status {
	case JobStatusFinished:
		ev.PublicURL = job.PublicURL
	case JobStatusFailed:
		ev.Error = job.Error
	}
	return ev
}
