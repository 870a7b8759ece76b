// Package ledger keeps the append-only per-recipient delivery audit trail.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"postbell/internal/models"
)

// Store persists delivery records.
type Store interface {
	InsertDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error
	HasBeenNotified(ctx context.Context, contentID, recipient string) (bool, error)
	ListDeliveryRecords(ctx context.Context, contentID string) ([]models.DeliveryRecord, error)
}

type Ledger struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

func New(store Store, log *zap.Logger, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Ledger{store: store, log: log, timeout: timeout}
}

// Record appends one outcome. Write failures are logged and swallowed so the
// audit trail can never fail a dispatch.
func (l *Ledger) Record(ctx context.Context, rec models.DeliveryRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.InsertDeliveryRecord(ctx, &rec); err != nil {
		l.log.Error("failed to write delivery record",
			zap.String("content_id", rec.ContentID),
			zap.String("to", rec.Recipient),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
	}
}

func (l *Ledger) HasBeenNotified(ctx context.Context, contentID, recipient string) (bool, error) {
	return l.store.HasBeenNotified(ctx, contentID, recipient)
}

func (l *Ledger) ListForContent(ctx context.Context, contentID string) ([]models.DeliveryRecord, error) {
	return l.store.ListDeliveryRecords(ctx, contentID)
}
