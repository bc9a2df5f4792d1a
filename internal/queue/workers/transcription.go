package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/indicstt/internal/jobs"
	"github.com/nikhilbhutani/indicstt/internal/queue"
	"github.com/nikhilbhutani/indicstt/internal/storage"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
	"github.com/nikhilbhutani/indicstt/internal/webhook"
)

type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, transcriptionID *uuid.UUID, result any) error
	Fail(ctx context.Context, id uuid.UUID, msg string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Response, error)
}

type Notifier interface {
	Notify(jobID uuid.UUID, url, event string, payload any) error
}

// CallbackPayload is the body posted to a job's callback URL.
type CallbackPayload struct {
	JobID  string                  `json:"job_id"`
	Status jobs.Status             `json:"status"`
	Result *transcription.Response `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type TranscriptionWorker struct {
	jobs     JobStore
	svc      Transcriber
	storage  storage.Storage
	bucket   string
	notifier Notifier

	isLastAttempt func(context.Context) bool
}

// NewTranscriptionWorker wires the job pipeline. notifier may be nil.
func NewTranscriptionWorker(js JobStore, svc Transcriber, store storage.Storage, bucket string, notifier Notifier) *TranscriptionWorker {
	return &TranscriptionWorker{
		jobs:     js,
		svc:      svc,
		storage:  store,
		bucket:   bucket,
		notifier: notifier,

		isLastAttempt: lastAttempt,
	}
}

func (w *TranscriptionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TranscriptionRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("parse job ID: %w: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return fmt.Errorf("job %s: %w", jobID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status.Terminal() {
		slog.Info("job already finished, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := w.jobs.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			return fmt.Errorf("mark processing: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	slog.Info("processing transcription job", "job_id", jobID, "filename", job.Filename, "language", job.Language)

	data, err := w.download(ctx, job.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return w.fail(ctx, job, err, true)
		}
		return w.fail(ctx, job, err, w.isLastAttempt(ctx))
	}

	resp, err := w.svc.Transcribe(ctx, transcription.Request{
		Filename:  job.Filename,
		Data:      data,
		Language:  job.Language,
		Decoding:  job.Decoding,
		Normalize: job.Normalize,
		Principal: job.Principal,
	})
	if err != nil {
		return w.fail(ctx, job, err, transcription.IsInvalidInput(err) || w.isLastAttempt(ctx))
	}

	// Only link a transcription that has a history row.
	var transcriptionID *uuid.UUID
	if id, err := uuid.Parse(resp.ID); err == nil && resp.Stored {
		transcriptionID = &id
	}
	if err := w.jobs.Complete(ctx, jobID, transcriptionID, resp); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			return fmt.Errorf("complete job: %w: %w", err, asynq.SkipRetry)
		}
		return w.fail(ctx, job, fmt.Errorf("complete job: %w", err), w.isLastAttempt(ctx))
	}

	slog.Info("transcription job completed", "job_id", jobID, "inference_time", resp.InferenceTime, "cached", resp.Cached)
	w.cleanup(ctx, job)
	w.notify(job, CallbackPayload{JobID: jobID.String(), Status: jobs.StatusCompleted, Result: resp})
	return nil
}

func (w *TranscriptionWorker) download(ctx context.Context, key string) ([]byte, error) {
	reader, err := w.storage.Download(ctx, w.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

// fail records a terminal failure when permanent is set; otherwise the error
// is returned so the queue retries the task.
func (w *TranscriptionWorker) fail(ctx context.Context, job *jobs.Job, cause error, permanent bool) error {
	if !permanent {
		slog.Warn("transcription job will be retried", "job_id", job.ID, "error", cause)
		return cause
	}

	if err := w.jobs.Fail(ctx, job.ID, cause.Error()); err != nil {
		slog.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	w.cleanup(ctx, job)
	w.notify(job, CallbackPayload{JobID: job.ID.String(), Status: jobs.StatusFailed, Error: cause.Error()})
	return fmt.Errorf("%w: %w", cause, asynq.SkipRetry)
}

func (w *TranscriptionWorker) cleanup(ctx context.Context, job *jobs.Job) {
	if err := w.storage.Delete(ctx, w.bucket, job.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("failed to delete job audio", "job_id", job.ID, "key", job.StorageKey, "error", err)
	}
}

func (w *TranscriptionWorker) notify(job *jobs.Job, payload CallbackPayload) {
	if w.notifier == nil || job.CallbackURL == "" {
		return
	}
	event := webhook.EventJobCompleted
	if payload.Status == jobs.StatusFailed {
		event = webhook.EventJobFailed
	}
	if err := w.notifier.Notify(job.ID, job.CallbackURL, event, payload); err != nil {
		slog.Error("failed to queue webhook", "job_id", job.ID, "error", err)
	}
}

// lastAttempt reports whether the running task has no retries left. Outside
// the queue there is nothing to retry.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
