package webhook

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRecorder writes deliveries to the webhook_deliveries table.
type PGRecorder struct {
	db *pgxpool.Pool
}

func NewPGRecorder(db *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{db: db}
}

func (r *PGRecorder) RecordDelivery(ctx context.Context, d Delivery) error {
	var errMsg *string
	if d.Error != "" {
		errMsg = &d.Error
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, job_id, url, event, payload, status_code, success, error, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.JobID, d.URL, d.Event, d.Payload, d.StatusCode, d.Success, errMsg, d.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}
