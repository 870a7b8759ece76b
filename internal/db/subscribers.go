package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"postbell/internal/models"
)

func (s *Store) ListActiveRecipients(
	ctx context.Context,
	t models.NotificationType,
) ([]models.Recipient, error) {

	rows, err := s.Pool.Query(ctx,
		`SELECT email, name, preferences, status
		 FROM subscribers
		 WHERE status = $1
		   AND COALESCE((preferences->>$2)::boolean, TRUE)
		 ORDER BY created_at, email`,
		models.RecipientActive,
		string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("listing active subscribers: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var (
			r     models.Recipient
			prefs []byte
		)
		if err := rows.Scan(&r.Email, &r.Name, &prefs, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		if err := json.Unmarshal(prefs, &r.Preferences); err != nil {
			return nil, fmt.Errorf("decoding preferences for %s: %w", r.Email, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRecipient(ctx context.Context, email string) (*models.Recipient, error) {
	var (
		r     models.Recipient
		prefs []byte
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT email, name, preferences, status FROM subscribers WHERE email = $1`,
		email,
	).Scan(&r.Email, &r.Name, &prefs, &r.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting subscriber: %w", err)
	}
	if err := json.Unmarshal(prefs, &r.Preferences); err != nil {
		return nil, fmt.Errorf("decoding preferences for %s: %w", r.Email, err)
	}
	return &r, nil
}

// UpsertRecipient inserts a subscriber or refreshes name and preferences.
// An existing unsubscribed status is kept.
func (s *Store) UpsertRecipient(ctx context.Context, r models.Recipient) error {
	prefs := r.Preferences
	if prefs == nil {
		prefs = map[models.NotificationType]bool{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO subscribers (email, name, preferences, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name,
		     preferences = EXCLUDED.preferences,
		     updated_at = NOW()`,
		r.Email,
		r.Name,
		prefsJSON,
		models.RecipientActive,
	)
	if err != nil {
		return fmt.Errorf("upserting subscriber: %w", err)
	}
	return nil
}

// MarkUnsubscribed flips the subscriber to unsubscribed. Repeating it is
// harmless.
func (s *Store) MarkUnsubscribed(ctx context.Context, email, reason string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE subscribers
		 SET status = $1,
		     unsubscribe_reason = CASE WHEN $2 = '' THEN unsubscribe_reason ELSE $2 END,
		     unsubscribed_at = COALESCE(unsubscribed_at, NOW()),
		     updated_at = NOW()
		 WHERE email = $3`,
		models.RecipientUnsubscribed,
		reason,
		email,
	)
	if err != nil {
		return fmt.Errorf("marking subscriber unsubscribed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
