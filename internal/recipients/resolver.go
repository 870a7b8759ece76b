// Package recipients resolves who should receive a notification.
package recipients

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"postbell/internal/models"
)

var ErrDirectoryUnavailable = errors.New("subscriber directory unavailable")

// Directory is the subscriber store.
type Directory interface {
	ListActiveRecipients(ctx context.Context, t models.NotificationType) ([]models.Recipient, error)
}

type Resolver struct {
	dir Directory
	log *zap.Logger
}

func NewResolver(dir Directory, log *zap.Logger) *Resolver {
	return &Resolver{dir: dir, log: log}
}

// Resolve returns active recipients that accept t, de-duplicated by address
// in first-seen order. If the directory fails it returns an empty list with
// an error wrapping ErrDirectoryUnavailable.
func (r *Resolver) Resolve(ctx context.Context, t models.NotificationType) ([]models.Recipient, error) {
	all, err := r.dir.ListActiveRecipients(ctx, t)
	if err != nil {
		r.log.Error("subscriber directory unavailable, no notifications will be sent",
			zap.String("notification_type", string(t)),
			zap.Error(err),
		)
		return []models.Recipient{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return Filter(all, t), nil
}

// Filter drops inactive, opted-out, address-less and duplicate recipients.
func Filter(all []models.Recipient, t models.NotificationType) []models.Recipient {
	return filter(all, t, true)
}

// FilterSupplied is Filter for a caller supplied list. Entries without an
// address are kept so the dispatcher records them as failures.
func FilterSupplied(all []models.Recipient, t models.NotificationType) []models.Recipient {
	return filter(all, t, false)
}

func filter(all []models.Recipient, t models.NotificationType, dropEmpty bool) []models.Recipient {
	seen := make(map[string]struct{}, len(all))
	out := make([]models.Recipient, 0, len(all))
	for _, rcpt := range all {
		if rcpt.Email == "" && dropEmpty {
			continue
		}
		if rcpt.Status != "" && rcpt.Status != models.RecipientActive {
			continue
		}
		if !rcpt.Wants(t) {
			continue
		}
		if _, dup := seen[rcpt.Email]; dup {
			continue
		}
		seen[rcpt.Email] = struct{}{}
		out = append(out, rcpt)
	}
	return out
}
