// Package dispatch sends one notification per recipient in rate-limited,
// strictly ordered batches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"postbell/internal/email"
	"postbell/internal/metrics"
	"postbell/internal/models"
	"postbell/internal/render"
)

var ErrInvalidInput = errors.New("invalid dispatch input")

const (
	DefaultBatchSize   = 5
	DefaultBatchDelay  = time.Second
	DefaultSendTimeout = 10 * time.Second
)

// Renderer builds the message for one recipient.
type Renderer interface {
	Render(item models.ContentItem, rcpt models.Recipient) (render.Message, error)
}

// Recorder receives every per-recipient outcome. It must not fail the run.
type Recorder interface {
	Record(ctx context.Context, rec models.DeliveryRecord)
}

type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	SendTimeout      time.Duration
	ReplyTo          string
	NotificationType models.NotificationType
}

func (c *Config) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.NotificationType == "" {
		c.NotificationType = models.NotificationBlogPost
	}
}

// RecipientError is a contained per-recipient failure.
type RecipientError struct {
	Email string
	Err   error
}

// Batch describes one settled batch.
type Batch struct {
	Index     int
	Size      int
	StartedAt time.Time
	Sent      int
	Failed    int
}

type Result struct {
	Total        int
	SuccessCount int
	FailureCount int
	// Skipped counts recipients never attempted because the run was canceled.
	Skipped  int
	Canceled bool
	Errors   []RecipientError
	Batches  []Batch
}

type Dispatcher struct {
	transport email.Transport
	renderer  Renderer
	recorder  Recorder
	log       *zap.Logger
	cfg       Config
}

// New builds a Dispatcher. recorder may be nil.
func New(t email.Transport, r Renderer, recorder Recorder, log *zap.Logger, cfg Config) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		transport: t,
		renderer:  r,
		recorder:  recorder,
		log:       log,
		cfg:       cfg,
	}
}

type outcome struct {
	rcpt models.Recipient
	err  error
}

// Dispatch delivers item to every recipient. Batch k+1 starts only after
// batch k has settled and BatchDelay has elapsed. Failures are contained per
// recipient; the returned error is reserved for invalid input. When ctx is
// canceled no new batch starts, but the batch in flight is finished.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	item models.ContentItem,
	recipients []models.Recipient,
) (Result, error) {

	if err := models.Validate(item); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	metrics.DispatchRuns.Inc()
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	res := Result{Total: len(recipients)}

	for i, k := 0, 0; i < len(recipients); i, k = i+d.cfg.BatchSize, k+1 {
		if k > 0 && !d.pause(ctx) {
			res.Canceled = true
			res.Skipped = len(recipients) - i
			break
		}
		if k == 0 && ctx.Err() != nil {
			res.Canceled = true
			res.Skipped = len(recipients)
			break
		}

		end := i + d.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		batch := Batch{Index: k, Size: end - i, StartedAt: time.Now()}
		for _, o := range d.sendBatch(ctx, item, recipients[i:end]) {
			if o.err != nil {
				batch.Failed++
				res.FailureCount++
				res.Errors = append(res.Errors, RecipientError{Email: o.rcpt.Email, Err: o.err})
				d.record(ctx, item, o.rcpt, models.DeliveryFailed, o.err.Error())
				continue
			}
			batch.Sent++
			res.SuccessCount++
			d.record(ctx, item, o.rcpt, models.DeliverySent, "")
		}
		res.Batches = append(res.Batches, batch)

		d.log.Info("batch settled",
			zap.String("content_id", item.ID),
			zap.Int("batch", k),
			zap.Int("size", batch.Size),
			zap.Int("sent", batch.Sent),
			zap.Int("failed", batch.Failed),
		)
	}

	if res.Canceled {
		d.log.Warn("dispatch canceled before all batches started",
			zap.String("content_id", item.ID),
			zap.Int("skipped", res.Skipped),
		)
	}

	return res, nil
}

// pause waits the inter-batch delay. It returns false if ctx ends first.
func (d *Dispatcher) pause(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(d.cfg.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sendBatch fans out one goroutine per recipient and waits for all of them.
// Sends use a context detached from cancellation so a started batch is never
// left half done; each is still bounded by SendTimeout.
func (d *Dispatcher) sendBatch(
	ctx context.Context,
	item models.ContentItem,
	batch []models.Recipient,
) []outcome {

	out := make([]outcome, len(batch))
	var wg sync.WaitGroup

	for i, rcpt := range batch {
		wg.Add(1)
		go func(i int, rcpt models.Recipient) {
			defer wg.Done()
			out[i] = outcome{rcpt: rcpt, err: d.sendOne(ctx, item, rcpt)}
		}(i, rcpt)
	}

	wg.Wait()
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, item models.ContentItem, rcpt models.Recipient) error {
	if err := models.Validate(rcpt); err != nil {
		metrics.EmailFailures.Inc()
		return fmt.Errorf("%w: %v", render.ErrInvalidRecipient, err)
	}

	msg, err := d.renderer.Render(item, rcpt)
	if err != nil {
		metrics.EmailFailures.Inc()
		d.log.Warn("render failed", zap.String("to", rcpt.Email), zap.Error(err))
		return err
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
	defer cancel()

	err = d.transport.Send(sendCtx, email.Message{
		To:      []string{rcpt.Email},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		ReplyTo: d.cfg.ReplyTo,
	})
	if err != nil {
		metrics.EmailFailures.Inc()
		d.log.Warn("email send failed",
			zap.String("content_id", item.ID),
			zap.String("to", rcpt.Email),
			zap.Error(err),
		)
		return err
	}

	metrics.EmailsSent.Inc()
	return nil
}

func (d *Dispatcher) record(
	ctx context.Context,
	item models.ContentItem,
	rcpt models.Recipient,
	status models.DeliveryStatus,
	errMsg string,
) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(ctx, models.DeliveryRecord{
		ContentID:        item.ID,
		Recipient:        rcpt.Email,
		NotificationType: d.cfg.NotificationType,
		Status:           status,
		ErrorMsg:         errMsg,
	})
}
