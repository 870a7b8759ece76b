package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"postbell/internal/models"
)

// InsertDeliveryRecord appends a ledger row. The attempt number is the next
// one for the (content, recipient) pair. A transaction-scoped advisory lock
// on the pair serialises concurrent writers, so two runs never compute the
// same attempt number.
func (s *Store) InsertDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error {
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
			rec.ContentID,
			rec.Recipient,
		); err != nil {
			return fmt.Errorf("locking delivery records: %w", err)
		}

		return tx.QueryRow(ctx,
			`INSERT INTO delivery_records
			 (content_id, recipient, notification_type, attempt, status, error_msg, created_at)
			 SELECT $1, $2, $3, COALESCE(MAX(attempt), 0) + 1, $4, $5, NOW()
			 FROM delivery_records
			 WHERE content_id = $1 AND recipient = $2
			 RETURNING id, attempt, created_at`,
			rec.ContentID,
			rec.Recipient,
			string(rec.NotificationType),
			rec.Status,
			rec.ErrorMsg,
		).Scan(&rec.ID, &rec.Attempt, &rec.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("inserting delivery record: %w", err)
	}
	return nil
}

func (s *Store) HasBeenNotified(ctx context.Context, contentID, recipient string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM delivery_records
		     WHERE content_id = $1 AND recipient = $2 AND status = $3
		 )`,
		contentID,
		recipient,
		models.DeliverySent,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking delivery records: %w", err)
	}
	return exists, nil
}

func (s *Store) ListDeliveryRecords(ctx context.Context, contentID string) ([]models.DeliveryRecord, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, content_id, recipient, notification_type, attempt, status, error_msg, created_at
		 FROM delivery_records
		 WHERE content_id = $1
		 ORDER BY recipient, attempt`,
		contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing delivery records: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryRecord
	for rows.Next() {
		var rec models.DeliveryRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ContentID,
			&rec.Recipient,
			&rec.NotificationType,
			&rec.Attempt,
			&rec.Status,
			&rec.ErrorMsg,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning delivery record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
