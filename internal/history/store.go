// Package history stores finished transcriptions in Postgres.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("transcription not found")

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Record struct {
	ID             uuid.UUID `json:"id"`
	Filename       string    `json:"filename"`
	Language       string    `json:"language"`
	Decoding       string    `json:"decoding"`
	ModelType      string    `json:"model_type"`
	Text           string    `json:"text"`
	NormalizedText *string   `json:"normalized_text,omitempty"`
	Confidence     float64   `json:"confidence"`
	InferenceTime  float64   `json:"inference_time"`
	RTF            float64   `json:"rtf"`
	AudioDuration  float64   `json:"audio_duration"`
	AudioSHA256    string    `json:"audio_sha256"`
	Principal      string    `json:"principal,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Query struct {
	Language string
	Limit    int
	Offset   int
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const columns = `id, filename, language, decoding, model_type, text, normalized_text,
	confidence, inference_time, rtf, audio_duration, audio_sha256, COALESCE(principal, ''), created_at`

func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var principal *string
	if rec.Principal != "" {
		principal = &rec.Principal
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO transcriptions (id, filename, language, decoding, model_type, text, normalized_text,
			confidence, inference_time, rtf, audio_duration, audio_sha256, principal)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at`,
		rec.ID, rec.Filename, rec.Language, rec.Decoding, rec.ModelType, rec.Text, rec.NormalizedText,
		rec.Confidence, rec.InferenceTime, rec.RTF, rec.AudioDuration, rec.AudioSHA256, principal,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM transcriptions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	query, args := buildListQuery(q)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcriptions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func buildListQuery(q Query) (string, []any) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	query := `SELECT ` + columns + ` FROM transcriptions`
	var args []any
	argIdx := 1

	if q.Language != "" {
		query += fmt.Sprintf(" WHERE language = $%d", argIdx)
		args = append(args, q.Language)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)
	return query, args
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.Filename, &r.Language, &r.Decoding, &r.ModelType, &r.Text, &r.NormalizedText,
		&r.Confidence, &r.InferenceTime, &r.RTF, &r.AudioDuration, &r.AudioSHA256, &r.Principal, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
