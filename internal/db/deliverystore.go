package db

import (
	"context"
	"fmt"

	"github.com/spoolworks/mediaspool/internal/webhook"
)

// DeliveryStore implements webhook.DeliveryStore on Postgres.
type DeliveryStore struct {
	db *DatabaseConnection
}

func NewDeliveryStore(db *DatabaseConnection) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, job_id, url, attempts, succeeded, last_status, last_error, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.JobID, d.URL, d.Attempts, d.Succeeded, d.LastStatus, d.LastError, d.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the recorded outcomes for one job, newest first.
func (s *DeliveryStore) ListDeliveries(ctx context.Context, jobID string) ([]*webhook.Delivery, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, url, attempts, succeeded, last_status, last_error, completed_at
		FROM webhook_deliveries
		WHERE job_id = $1
		ORDER BY completed_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*webhook.Delivery, 0)
	for rows.Next() {
		var d webhook.Delivery
		if err := rows.Scan(&d.ID, &d.JobID, &d.URL, &d.Attempts, &d.Succeeded, &d.LastStatus, &d.LastError, &d.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
