// Package notify turns a "content published" event into subscriber
// notifications, either inline through the dispatcher or via the durable
// retry queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"postbell/internal/db"
	"postbell/internal/dispatch"
	"postbell/internal/models"
	"postbell/internal/recipients"
	"postbell/internal/render"
	"postbell/internal/report"
)

type Resolver interface {
	Resolve(ctx context.Context, t models.NotificationType) ([]models.Recipient, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, item models.ContentItem, rcpts []models.Recipient) (dispatch.Result, error)
}

// History answers whether a recipient already got this content item.
type History interface {
	HasBeenNotified(ctx context.Context, contentID, recipient string) (bool, error)
}

type Reporter interface {
	Report(ctx context.Context, s report.Summary)
}

// Enqueuer stores a rendered message for contentID. It returns
// db.ErrAlreadyQueued when a live message exists for the same pair.
type Enqueuer interface {
	EnqueueContent(ctx context.Context, contentID, recipient, subject, body string) (*models.QueuedMessage, error)
}

type Renderer interface {
	Render(item models.ContentItem, rcpt models.Recipient) (render.Message, error)
}

type Deps struct {
	Resolver   Resolver
	Dispatcher Dispatcher
	History    History
	Reporter   Reporter
	Queue      Enqueuer
	Renderer   Renderer
	Log        *zap.Logger
}

type Notifier struct {
	resolver   Resolver
	dispatcher Dispatcher
	history    History
	reporter   Reporter
	queue      Enqueuer
	renderer   Renderer
	log        *zap.Logger
	notifType  models.NotificationType

	reports sync.WaitGroup
}

func New(d Deps) *Notifier {
	return &Notifier{
		resolver:   d.Resolver,
		dispatcher: d.Dispatcher,
		history:    d.History,
		reporter:   d.Reporter,
		queue:      d.Queue,
		renderer:   d.Renderer,
		log:        d.Log,
		notifType:  models.NotificationBlogPost,
	}
}

// Outcome is what the publisher gets back from a notification run.
type Outcome struct {
	RunID string
	// AlreadyNotified counts recipients dropped because the ledger shows a
	// successful delivery of this item.
	AlreadyNotified int
	// DirectoryUnavailable is set when recipients could not be resolved.
	DirectoryUnavailable bool
	Result               dispatch.Result
}

// Publish notifies recipients (or, when nil, the resolved subscriber list)
// about item. External failures never surface as errors; only invalid input
// does.
func (n *Notifier) Publish(ctx context.Context, item models.ContentItem, supplied []models.Recipient) (Outcome, error) {
	if err := models.Validate(item); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
	}

	out := Outcome{RunID: uuid.NewString()}
	log := n.log.With(zap.String("run_id", out.RunID), zap.String("content_id", item.ID))

	targets, ok := n.targets(ctx, log, supplied)
	if !ok {
		out.DirectoryUnavailable = true
		return out, nil
	}

	targets, out.AlreadyNotified = n.pending(ctx, log, item, targets)
	if len(targets) == 0 {
		log.Info("nothing to send", zap.Int("already_notified", out.AlreadyNotified))
		return out, nil
	}

	log.Info("dispatch started", zap.Int("recipients", len(targets)))
	start := time.Now()

	res, err := n.dispatcher.Dispatch(ctx, item, targets)
	if err != nil {
		return out, err
	}
	out.Result = res

	log.Info("dispatch finished",
		zap.Int("sent", res.SuccessCount),
		zap.Int("failed", res.FailureCount),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", time.Since(start)),
	)

	if n.reporter != nil {
		summary := report.FromResult(out.RunID, item, res)
		n.reports.Add(1)
		go func() {
			defer n.reports.Done()
			n.reporter.Report(context.WithoutCancel(ctx), summary)
		}()
	}

	return out, nil
}

// Enqueue renders a message per recipient and stores it in the retry queue
// instead of sending inline. Recipients already notified, or with a live
// queued message for item, are left out. It returns how many messages were
// queued.
func (n *Notifier) Enqueue(ctx context.Context, item models.ContentItem, supplied []models.Recipient) (int, error) {
	if err := models.Validate(item); err != nil {
		return 0, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
	}
	if n.queue == nil || n.renderer == nil {
		return 0, errors.New("retry queue is not configured")
	}

	log := n.log.With(zap.String("content_id", item.ID))
	targets, ok := n.targets(ctx, log, supplied)
	if !ok {
		return 0, nil
	}
	targets, notified := n.pending(ctx, log, item, targets)

	queued, alreadyQueued := 0, 0
	for _, rcpt := range targets {
		if err := models.Validate(rcpt); err != nil {
			log.Warn("skipping invalid recipient", zap.String("to", rcpt.Email), zap.Error(err))
			continue
		}
		msg, err := n.renderer.Render(item, rcpt)
		if err != nil {
			log.Warn("render failed", zap.String("to", rcpt.Email), zap.Error(err))
			continue
		}
		if _, err := n.queue.EnqueueContent(ctx, item.ID, rcpt.Email, msg.Subject, msg.HTML); err != nil {
			if errors.Is(err, db.ErrAlreadyQueued) {
				alreadyQueued++
				continue
			}
			return queued, fmt.Errorf("enqueue for %s: %w", rcpt.Email, err)
		}
		queued++
	}

	log.Info("notifications queued",
		zap.Int("queued", queued),
		zap.Int("already_queued", alreadyQueued),
		zap.Int("already_notified", notified),
	)
	return queued, nil
}

// Wait blocks until summary reports started by Publish have finished.
func (n *Notifier) Wait() {
	n.reports.Wait()
}

// targets returns the supplied recipients, de-duplicated and filtered, or
// resolves them from the directory when none were supplied.
func (n *Notifier) targets(ctx context.Context, log *zap.Logger, supplied []models.Recipient) ([]models.Recipient, bool) {
	if supplied != nil {
		return recipients.FilterSupplied(supplied, n.notifType), true
	}
	resolved, err := n.resolver.Resolve(ctx, n.notifType)
	if err != nil {
		log.Error("recipient resolution failed, publishing without notifications", zap.Error(err))
		return nil, false
	}
	return resolved, true
}

// pending drops recipients the ledger shows as already notified. A lookup
// error keeps the recipient: a duplicate beats a lost notification.
func (n *Notifier) pending(
	ctx context.Context,
	log *zap.Logger,
	item models.ContentItem,
	targets []models.Recipient,
) ([]models.Recipient, int) {

	if n.history == nil {
		return targets, 0
	}
	out := make([]models.Recipient, 0, len(targets))
	skipped := 0
	for _, rcpt := range targets {
		done, err := n.history.HasBeenNotified(ctx, item.ID, rcpt.Email)
		if err != nil {
			log.Warn("ledger lookup failed, sending anyway", zap.String("to", rcpt.Email), zap.Error(err))
		}
		if done {
			skipped++
			continue
		}
		out = append(out, rcpt)
	}
	return out, skipped
}
