package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/indicstt/internal/jobs"
	"github.com/nikhilbhutani/indicstt/internal/queue"
	"github.com/nikhilbhutani/indicstt/internal/storage"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
)

type JobStore interface {
	Create(ctx context.Context, job *jobs.Job) error
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	Fail(ctx context.Context, id uuid.UUID, msg string) error
}

type Enqueuer interface {
	EnqueueTranscription(ctx context.Context, payload queue.TranscriptionRunPayload) error
}

type JobsHandler struct {
	svc     *transcription.Service
	cfg     JobsConfig
	jobs    JobStore
	storage storage.Storage
	queue   Enqueuer
}

type JobsConfig struct {
	Bucket      string
	MaxFileSize int64
}

// NewJobsHandler wires the async job endpoints. A nil store, storage or
// queue makes them answer 503.
func NewJobsHandler(svc *transcription.Service, cfg JobsConfig, js JobStore, store storage.Storage, q Enqueuer) *JobsHandler {
	return &JobsHandler{svc: svc, cfg: cfg, jobs: js, storage: store, queue: q}
}

func (h *JobsHandler) available() bool {
	return h.jobs != nil && h.storage != nil && h.queue != nil
}

type jobAccepted struct {
	JobID  uuid.UUID   `json:"job_id"`
	Status jobs.Status `json:"status"`
}

func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeServiceError(w, errDatabaseUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeFormError(w, err)
		return
	}

	req, err := uploadRequest(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ext, err := h.svc.ValidateUpload(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	callback := r.FormValue("callback_url")
	if err := validateCallback(callback); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Decoding == "" {
		req.Decoding = h.svc.DefaultDecoding()
	}

	job := &jobs.Job{
		ID:          uuid.New(),
		Filename:    req.Filename,
		Language:    req.Language,
		Decoding:    req.Decoding,
		Normalize:   req.Normalize,
		CallbackURL: callback,
		Principal:   req.Principal,
	}
	job.StorageKey = fmt.Sprintf("jobs/%s.%s", job.ID, ext)

	ctx := r.Context()
	if err := h.storage.Upload(ctx, h.cfg.Bucket, job.StorageKey, bytes.NewReader(req.Data), "audio/"+ext); err != nil {
		slog.Error("failed to store job audio", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		slog.Error("failed to create job", "job_id", job.ID, "error", err)
		h.storage.Delete(ctx, h.cfg.Bucket, job.StorageKey)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := h.queue.EnqueueTranscription(ctx, queue.TranscriptionRunPayload{JobID: job.ID.String()}); err != nil {
		slog.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		h.jobs.Fail(ctx, job.ID, "failed to enqueue")
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	slog.Info("transcription job queued", "job_id", job.ID, "language", job.Language, "principal", job.Principal)
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeServiceError(w, errDatabaseUnavailable)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func validateCallback(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errors.New("invalid callback_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("callback_url must be an http(s) URL")
	}
	return nil
}
