// Package queue is the durable retry path: rendered messages are stored as
// pending rows and delivered by periodic sweeps with a bounded attempt count.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"postbell/internal/email"
	"postbell/internal/metrics"
	"postbell/internal/models"
)

// Store persists queued messages. ClaimPending must mark the returned rows
// in-flight atomically so concurrent sweeps never claim the same row.
type Store interface {
	InsertQueued(ctx context.Context, m *models.QueuedMessage) error
	ClaimPending(ctx context.Context, limit int, staleBefore time.Time) ([]models.QueuedMessage, error)
	MarkQueuedSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkQueuedAttemptFailed(ctx context.Context, id int64, errorMsg string) (models.QueueStatus, int, error)
	GetQueued(ctx context.Context, id int64) (*models.QueuedMessage, error)
}

// Recorder receives the outcome of every attempt on a message that belongs
// to a content item.
type Recorder interface {
	Record(ctx context.Context, rec models.DeliveryRecord)
}

type Config struct {
	MaxAttempts int
	// Limit caps how many messages one sweep claims.
	Limit       int
	Workers     int
	SendTimeout time.Duration
	// ClaimLease is how long an in-flight claim may be held before the
	// message is considered abandoned and claimable again.
	ClaimLease       time.Duration
	ReplyTo          string
	NotificationType models.NotificationType
}

func (c *Config) withDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Limit <= 0 {
		c.Limit = 50
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 10 * time.Minute
	}
	if c.NotificationType == "" {
		c.NotificationType = models.NotificationBlogPost
	}
}

type Queue struct {
	store     Store
	transport email.Transport
	recorder  Recorder
	log       *zap.Logger
	cfg       Config
	now       func() time.Time
}

// New builds a queue. recorder may be nil.
func New(store Store, t email.Transport, recorder Recorder, log *zap.Logger, cfg Config) *Queue {
	cfg.withDefaults()
	return &Queue{
		store:     store,
		transport: t,
		recorder:  recorder,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

var ErrEmptyRecipient = errors.New("queued message needs a recipient")

// Enqueue stores a new pending message with zero attempts.
func (q *Queue) Enqueue(ctx context.Context, recipient, subject, body string) (*models.QueuedMessage, error) {
	return q.EnqueueContent(ctx, "", recipient, subject, body)
}

// EnqueueContent is Enqueue for a message announcing contentID. The store
// refuses a second live message for the same content and recipient, and
// every attempt is reported to the recorder.
func (q *Queue) EnqueueContent(ctx context.Context, contentID, recipient, subject, body string) (*models.QueuedMessage, error) {
	if recipient == "" {
		return nil, ErrEmptyRecipient
	}
	m := &models.QueuedMessage{
		ContentID:   contentID,
		Recipient:   recipient,
		Subject:     subject,
		Body:        body,
		Status:      models.StatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
	}
	if err := q.store.InsertQueued(ctx, m); err != nil {
		return nil, err
	}
	metrics.QueueTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	return m, nil
}

func (q *Queue) Get(ctx context.Context, id int64) (*models.QueuedMessage, error) {
	return q.store.GetQueued(ctx, id)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// Sweep claims up to Limit deliverable messages and attempts each once.
// Safe to run concurrently with itself; claims are exclusive per row.
func (q *Queue) Sweep(ctx context.Context) (SweepResult, error) {
	claimed, err := q.store.ClaimPending(ctx, q.cfg.Limit, q.now().Add(-q.cfg.ClaimLease))
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Claimed: len(claimed)}
	if len(claimed) == 0 {
		return res, nil
	}

	jobs := make(chan models.QueuedMessage)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	workers := q.cfg.Workers
	if workers > len(claimed) {
		workers = len(claimed)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				status := q.attempt(ctx, id, m)
				mu.Lock()
				switch status {
				case models.StatusSent:
					res.Sent++
				case models.StatusPending:
					res.Retried++
				case models.StatusFailed:
					res.Failed++
				}
				mu.Unlock()
			}
		}(i)
	}

	for _, m := range claimed {
		jobs <- m
	}
	close(jobs)
	wg.Wait()

	q.log.Info("queue sweep complete",
		zap.Int("claimed", res.Claimed),
		zap.Int("sent", res.Sent),
		zap.Int("retried", res.Retried),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// attempt delivers one claimed message and records the transition. It
// returns the resulting status, or "" if the transition could not be stored
// (the claim then expires and the message is picked up again).
func (q *Queue) attempt(ctx context.Context, workerID int, m models.QueuedMessage) models.QueueStatus {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.SendTimeout)
	err := q.transport.Send(sendCtx, email.Message{
		To:      []string{m.Recipient},
		Subject: m.Subject,
		HTML:    m.Body,
		ReplyTo: q.cfg.ReplyTo,
	})
	cancel()

	storeCtx := context.WithoutCancel(ctx)

	if err == nil {
		if dbErr := q.store.MarkQueuedSent(storeCtx, m.ID, q.now()); dbErr != nil {
			q.log.Error("failed to update sent status",
				zap.Int64("message_id", m.ID),
				zap.Error(dbErr),
			)
			return ""
		}
		q.record(storeCtx, m, models.DeliverySent, "")
		metrics.EmailsSent.Inc()
		metrics.QueueTransitions.WithLabelValues(string(models.StatusSent)).Inc()
		q.log.Info("queued email sent",
			zap.Int("worker_id", workerID),
			zap.Int64("message_id", m.ID),
			zap.String("to", m.Recipient),
		)
		return models.StatusSent
	}

	metrics.EmailFailures.Inc()
	status, attempts, dbErr := q.store.MarkQueuedAttemptFailed(storeCtx, m.ID, err.Error())
	if dbErr != nil {
		q.log.Error("failed to update failure status",
			zap.Int64("message_id", m.ID),
			zap.Error(dbErr),
		)
		return ""
	}
	q.record(storeCtx, m, models.DeliveryFailed, err.Error())
	metrics.QueueTransitions.WithLabelValues(string(status)).Inc()

	fields := []zap.Field{
		zap.Int("worker_id", workerID),
		zap.Int64("message_id", m.ID),
		zap.String("to", m.Recipient),
		zap.Int("attempts", attempts),
		zap.Error(err),
	}
	if status == models.StatusFailed {
		q.log.Error("queued email permanently failed", fields...)
	} else {
		q.log.Warn("queued email send failed, will retry", fields...)
	}
	return status
}

func (q *Queue) record(ctx context.Context, m models.QueuedMessage, status models.DeliveryStatus, errMsg string) {
	if q.recorder == nil || m.ContentID == "" {
		return
	}
	q.recorder.Record(ctx, models.DeliveryRecord{
		ContentID:        m.ContentID,
		Recipient:        m.Recipient,
		NotificationType: q.cfg.NotificationType,
		Status:           status,
		ErrorMsg:         errMsg,
	})
}
