package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// Dispatcher hands jobs to the background executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// AsynqDispatcher enqueues one task per job. The task id is the job id, so a
// job can never be queued twice.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
}

func NewAsynqDispatcher(client *asynq.Client, inspector *asynq.Inspector, maxRetry int) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		maxRetry:  maxRetry,
	}
}

// NewDownloadTask builds the task executed by the download worker.
func NewDownloadTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.DownloadJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(model.TaskTypeDownload, data), nil
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewDownloadTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(model.QueueDownloads),
		asynq.TaskID(jobID),
		asynq.MaxRetry(d.maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Cancel removes a pending task, or signals the worker running it.
func (d *AsynqDispatcher) Cancel(_ context.Context, jobID string) error {
	if err := d.inspector.DeleteTask(model.QueueDownloads, jobID); err == nil {
		return nil
	}
	if err := d.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}
