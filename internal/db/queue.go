package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"postbell/internal/models"
)

const queuedColumns = `id, content_id, recipient, subject, body, status, attempts, max_attempts,
		        last_error, created_at, claimed_at, sent_at`

func scanQueued(row pgx.Row, m *models.QueuedMessage) error {
	return row.Scan(
		&m.ID,
		&m.ContentID,
		&m.Recipient,
		&m.Subject,
		&m.Body,
		&m.Status,
		&m.Attempts,
		&m.MaxAttempts,
		&m.LastError,
		&m.CreatedAt,
		&m.ClaimedAt,
		&m.SentAt,
	)
}

// InsertQueued stores a new pending message. A message tied to a content
// item is rejected with ErrAlreadyQueued while another pending, processing
// or sent message exists for the same recipient.
func (s *Store) InsertQueued(ctx context.Context, m *models.QueuedMessage) error {
	if m.MaxAttempts <= 0 {
		m.MaxAttempts = models.DefaultMaxAttempts
	}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO queued_messages
		 (content_id, recipient, subject, body, status, attempts, max_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, NOW())
		 ON CONFLICT (content_id, recipient)
		     WHERE content_id <> '' AND status <> 'failed'
		     DO NOTHING
		 RETURNING id, created_at`,
		m.ContentID,
		m.Recipient,
		m.Subject,
		m.Body,
		models.StatusPending,
		m.MaxAttempts,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyQueued
		}
		return fmt.Errorf("inserting queued message: %w", err)
	}
	m.Status = models.StatusPending
	m.Attempts = 0
	return nil
}

// ClaimPending atomically moves up to limit deliverable rows to processing.
// Rows left in processing since before staleBefore are reclaimed.
// SKIP LOCKED keeps concurrent sweeps from claiming the same row.
func (s *Store) ClaimPending(
	ctx context.Context,
	limit int,
	staleBefore time.Time,
) ([]models.QueuedMessage, error) {

	rows, err := s.Pool.Query(ctx,
		`UPDATE queued_messages
		 SET status = $1,
		     claimed_at = NOW()
		 WHERE id IN (
		     SELECT id FROM queued_messages
		     WHERE attempts < max_attempts
		       AND (status = $2 OR (status = $1 AND claimed_at < $3))
		     ORDER BY created_at, id
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queuedColumns,
		models.StatusProcessing,
		models.StatusPending,
		staleBefore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming queued messages: %w", err)
	}
	defer rows.Close()

	var out []models.QueuedMessage
	for rows.Next() {
		var m models.QueuedMessage
		if err := scanQueued(rows, &m); err != nil {
			return nil, fmt.Errorf("scanning queued message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkQueuedSent(ctx context.Context, id int64, sentAt time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE queued_messages
		 SET status = $1,
		     attempts = attempts + 1,
		     sent_at = $2,
		     claimed_at = NULL,
		     last_error = ''
		 WHERE id = $3 AND status = $4`,
		models.StatusSent,
		sentAt,
		id,
		models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("marking queued message sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkQueuedAttemptFailed counts a failed attempt and returns the row to
// pending, or to failed once max_attempts is reached.
func (s *Store) MarkQueuedAttemptFailed(
	ctx context.Context,
	id int64,
	errorMsg string,
) (models.QueueStatus, int, error) {

	var (
		status   models.QueueStatus
		attempts int
	)
	err := s.Pool.QueryRow(ctx,
		`UPDATE queued_messages
		 SET attempts = attempts + 1,
		     last_error = $1,
		     claimed_at = NULL,
		     status = CASE WHEN attempts + 1 >= max_attempts THEN $2 ELSE $3 END
		 WHERE id = $4 AND status = $5
		 RETURNING status, attempts`,
		errorMsg,
		models.StatusFailed,
		models.StatusPending,
		id,
		models.StatusProcessing,
	).Scan(&status, &attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrNotClaimed
		}
		return "", 0, fmt.Errorf("recording queued message failure: %w", err)
	}
	return status, attempts, nil
}

func (s *Store) GetQueued(ctx context.Context, id int64) (*models.QueuedMessage, error) {
	var m models.QueuedMessage
	err := scanQueued(s.Pool.QueryRow(ctx,
		`SELECT `+queuedColumns+` FROM queued_messages WHERE id = $1`, id), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting queued message: %w", err)
	}
	return &m, nil
}
