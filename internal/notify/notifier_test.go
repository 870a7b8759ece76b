package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"postbell/internal/db"
	"postbell/internal/dispatch"
	"postbell/internal/email"
	"postbell/internal/ledger"
	"postbell/internal/models"
	"postbell/internal/recipients"
	"postbell/internal/render"
	"postbell/internal/report"
	"postbell/internal/token"
)

type memLedgerStore struct {
	mu        sync.Mutex
	records   []models.DeliveryRecord
	lookupErr error
}

func (m *memLedgerStore) InsertDeliveryRecord(_ context.Context, rec *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memLedgerStore) HasBeenNotified(_ context.Context, contentID, recipient string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	for _, r := range m.records {
		if r.ContentID == contentID && r.Recipient == recipient && r.Status == models.DeliverySent {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedgerStore) ListDeliveryRecords(_ context.Context, contentID string) ([]models.DeliveryRecord, error) {
	return nil, nil
}

type fakeDirectory struct {
	recipients []models.Recipient
	err        error
}

func (f *fakeDirectory) ListActiveRecipients(context.Context, models.NotificationType) ([]models.Recipient, error) {
	return f.recipients, f.err
}

type recordingTransport struct {
	mu     sync.Mutex
	sent   []email.Message
	fail   map[string]bool
	onSend func()
}

func (r *recordingTransport) Send(_ context.Context, msg email.Message) error {
	if r.onSend != nil {
		r.onSend()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if r.fail[msg.To[0]] {
		return errors.New("550 rejected")
	}
	return nil
}

func (r *recordingTransport) count(to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.To[0] == to {
			n++
		}
	}
	return n
}

type captureReporter struct {
	mu        sync.Mutex
	summaries []report.Summary
}

func (c *captureReporter) Report(_ context.Context, s report.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
}

// fakeQueue keeps the store's rule of one live message per content and
// recipient.
type fakeQueue struct {
	messages []models.QueuedMessage
	err      error
}

func (f *fakeQueue) EnqueueContent(_ context.Context, contentID, to, subject, body string) (*models.QueuedMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range f.messages {
		if m.ContentID == contentID && m.Recipient == to && m.Status != models.StatusFailed {
			return nil, db.ErrAlreadyQueued
		}
	}
	m := models.QueuedMessage{ContentID: contentID, Recipient: to, Subject: subject, Body: body, Status: models.StatusPending}
	f.messages = append(f.messages, m)
	return &m, nil
}

type harness struct {
	notifier  *Notifier
	transport *recordingTransport
	ledger    *memLedgerStore
	directory *fakeDirectory
	reporter  *captureReporter
	queue     *fakeQueue
}

func newHarness(t *testing.T, subscribers ...string) *harness {
	t.Helper()
	log := zap.NewNop()

	codec, err := token.NewCodec("secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	renderer, err := render.New("https://blog.example.com", codec)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	h := &harness{
		transport: &recordingTransport{fail: map[string]bool{}},
		ledger:    &memLedgerStore{},
		directory: &fakeDirectory{},
		reporter:  &captureReporter{},
		queue:     &fakeQueue{},
	}
	for _, s := range subscribers {
		h.directory.recipients = append(h.directory.recipients, models.Recipient{Email: s, Status: models.RecipientActive})
	}

	l := ledger.New(h.ledger, log, time.Second)
	d := dispatch.New(h.transport, renderer, l, log, dispatch.Config{BatchSize: 5, BatchDelay: 5 * time.Millisecond})

	h.notifier = New(Deps{
		Resolver:   recipients.NewResolver(h.directory, log),
		Dispatcher: d,
		History:    l,
		Reporter:   h.reporter,
		Queue:      h.queue,
		Renderer:   renderer,
		Log:        log,
	})
	return h
}

var guide = models.ContentItem{ID: "p1", Title: "Guide 2025", Author: "Ada"}

func TestPublishResolvesDispatchesAndReports(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com")
	h.transport.fail["c@x.com"] = true

	out, err := h.notifier.Publish(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.notifier.Wait()

	if out.RunID == "" {
		t.Error("missing run id")
	}
	if out.Result.SuccessCount != 5 || out.Result.FailureCount != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
	if len(h.ledger.records) != 6 {
		t.Fatalf("ledger has %d records, want 6", len(h.ledger.records))
	}
	if len(h.reporter.summaries) != 1 {
		t.Fatalf("reported %d summaries, want 1", len(h.reporter.summaries))
	}
	s := h.reporter.summaries[0]
	if s.Success != 5 || s.Failure != 1 || s.Total != 6 || s.RunID != out.RunID {
		t.Fatalf("summary = %+v", s)
	}
}

func TestPublishTwiceOnlyRetriesFailures(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com", "c@x.com")
	h.transport.fail["b@x.com"] = true

	if _, err := h.notifier.Publish(context.Background(), guide, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	h.transport.fail["b@x.com"] = false
	out, err := h.notifier.Publish(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.notifier.Wait()

	if out.AlreadyNotified != 2 {
		t.Fatalf("already notified = %d, want 2", out.AlreadyNotified)
	}
	if h.transport.count("a@x.com") != 1 || h.transport.count("b@x.com") != 2 {
		t.Fatalf("sends: a=%d b=%d", h.transport.count("a@x.com"), h.transport.count("b@x.com"))
	}
	if out.Result.SuccessCount != 1 {
		t.Fatalf("second run result = %+v", out.Result)
	}
}

func TestPublishSendsWhenLedgerLookupFails(t *testing.T) {
	h := newHarness(t, "a@x.com")
	h.ledger.lookupErr = errors.New("db down")

	out, err := h.notifier.Publish(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.notifier.Wait()
	if out.Result.SuccessCount != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestPublishDirectoryUnavailable(t *testing.T) {
	h := newHarness(t)
	h.directory.err = errors.New("connection refused")

	out, err := h.notifier.Publish(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Publish must not fail on directory errors: %v", err)
	}
	h.notifier.Wait()
	if !out.DirectoryUnavailable {
		t.Fatal("expected DirectoryUnavailable")
	}
	if len(h.transport.sent) != 0 || len(h.reporter.summaries) != 0 {
		t.Fatal("messages sent without recipients")
	}
}

func TestPublishWithSuppliedRecipients(t *testing.T) {
	h := newHarness(t, "ignored@x.com")

	out, err := h.notifier.Publish(context.Background(), guide, []models.Recipient{
		{Email: "a@x.com", Name: "Grace"},
		{Email: "a@x.com"},
		{Email: "b@x.com", Preferences: map[models.NotificationType]bool{models.NotificationBlogPost: false}},
		{Email: "c@x.com", Status: models.RecipientUnsubscribed},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.notifier.Wait()

	if out.Result.Total != 1 || h.transport.count("a@x.com") != 1 || h.transport.count("ignored@x.com") != 0 {
		t.Fatalf("result = %+v, sent = %d", out.Result, len(h.transport.sent))
	}
	if !strings.Contains(h.transport.sent[0].HTML, "Hi Grace,") {
		t.Fatal("first occurrence of a duplicate should be used")
	}
}

func TestPublishRejectsInvalidContent(t *testing.T) {
	h := newHarness(t, "a@x.com")
	if _, err := h.notifier.Publish(context.Background(), models.ContentItem{Title: "no id"}, nil); !errors.Is(err, dispatch.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestEnqueueRendersIntoQueue(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com", "bogus")

	n, err := h.notifier.Enqueue(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 2 || len(h.queue.messages) != 2 {
		t.Fatalf("queued %d (%d stored), want 2", n, len(h.queue.messages))
	}
	m := h.queue.messages[0]
	if m.ContentID != "p1" {
		t.Fatalf("queued message content id = %q, want p1", m.ContentID)
	}
	if m.Recipient != "a@x.com" || m.Subject != "New post: Guide 2025" || !strings.Contains(m.Body, "unsubscribe?email=a%40x.com") {
		t.Fatalf("queued message = %+v", m)
	}
	if len(h.transport.sent) != 0 {
		t.Fatal("queued path sent inline")
	}
}

func TestEnqueueStoreError(t *testing.T) {
	h := newHarness(t, "a@x.com")
	h.queue.err = errors.New("db down")
	if _, err := h.notifier.Enqueue(context.Background(), guide, nil); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestEnqueueTwiceDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com")
	ctx := context.Background()

	first, err := h.notifier.Enqueue(ctx, guide, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := h.notifier.Enqueue(ctx, guide, nil)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if first != 2 || second != 0 || len(h.queue.messages) != 2 {
		t.Fatalf("first=%d second=%d stored=%d, want 2/0/2", first, second, len(h.queue.messages))
	}
}

func TestEnqueueSkipsRecipientsAlreadyNotified(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com")
	h.ledger.records = append(h.ledger.records, models.DeliveryRecord{
		ContentID: guide.ID, Recipient: "a@x.com", Status: models.DeliverySent,
	})

	n, err := h.notifier.Enqueue(context.Background(), guide, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 1 || h.queue.messages[0].Recipient != "b@x.com" {
		t.Fatalf("queued %d: %+v", n, h.queue.messages)
	}
}

func TestPublishCanceledFinishesInFlightBatch(t *testing.T) {
	h := newHarness(t, "a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com", "g@x.com")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.transport.onSend = cancel

	out, err := h.notifier.Publish(ctx, guide, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.notifier.Wait()

	res := out.Result
	if !res.Canceled || res.Skipped != 2 {
		t.Fatalf("result = %+v, want canceled with 2 skipped", res)
	}
	if res.SuccessCount != 5 || len(h.transport.sent) != 5 {
		t.Fatalf("in-flight batch not finished: sent=%d result=%+v", len(h.transport.sent), res)
	}
}
