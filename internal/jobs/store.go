// Package jobs tracks asynchronous transcription jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// CanTransition reports whether a job may move from one status to another.
// A processing job may be picked up again when the queue retries it.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Job struct {
	ID              uuid.UUID       `json:"job_id"`
	Status          Status          `json:"status"`
	Filename        string          `json:"filename"`
	Language        string          `json:"language"`
	Decoding        string          `json:"decoding"`
	Normalize       bool            `json:"normalize"`
	StorageKey      string          `json:"-"`
	CallbackURL     string          `json:"callback_url,omitempty"`
	TranscriptionID *uuid.UUID      `json:"transcription_id,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	Principal       string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = StatusQueued

	err := s.db.QueryRow(ctx,
		`INSERT INTO transcription_jobs (id, status, filename, language, decoding, normalize, storage_key, callback_url, principal)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		job.ID, job.Status, job.Filename, job.Language, job.Decoding, job.Normalize,
		job.StorageKey, nullable(job.CallbackURL), nullable(job.Principal),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j Job
	var callback, principal, jobErr *string
	err := s.db.QueryRow(ctx,
		`SELECT id, status, filename, language, decoding, normalize, storage_key, callback_url,
			transcription_id, result, error, attempts, principal, created_at, updated_at, completed_at
		 FROM transcription_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Status, &j.Filename, &j.Language, &j.Decoding, &j.Normalize, &j.StorageKey, &callback,
		&j.TranscriptionID, &j.Result, &jobErr, &j.Attempts, &principal, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if callback != nil {
		j.CallbackURL = *callback
	}
	if principal != nil {
		j.Principal = *principal
	}
	if jobErr != nil {
		j.Error = *jobErr
	}
	return &j, nil
}

// transition moves a job to status when its current status allows it.
func (s *Store) transition(ctx context.Context, id uuid.UUID, to Status, set string, args ...any) error {
	allowed := allowedFrom(to)
	query := fmt.Sprintf(
		`UPDATE transcription_jobs SET status = $2, updated_at = now()%s
		 WHERE id = $1 AND status = ANY($3)`, set)

	tag, err := s.db.Exec(ctx, query, append([]any{id, to, allowed}, args...)...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, to)
	}
	return nil
}

func allowedFrom(to Status) []string {
	var from []string
	for _, st := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(st, to) {
			from = append(from, string(st))
		}
	}
	return from
}

func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusProcessing, ", attempts = attempts + 1")
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, transcriptionID *uuid.UUID, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return s.transition(ctx, id, StatusCompleted,
		", transcription_id = $4, result = $5, error = NULL, completed_at = now()",
		transcriptionID, data)
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	return s.transition(ctx, id, StatusFailed, ", error = $4, completed_at = now()", msg)
}
