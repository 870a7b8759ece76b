package render

import (
	"errors"
	"strings"
	"testing"

	"postbell/internal/models"
)

type fakeTokens struct{}

func (fakeTokens) Encode(address string) string { return "tok-" + address }

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New("https://blog.example.com/", fakeTokens{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRenderIsDeterministic(t *testing.T) {
	r := newRenderer(t)
	item := models.ContentItem{
		ID:       "p1",
		Title:    "Guide 2025",
		Excerpt:  "<p>Everything <em>new</em></p>",
		Author:   "Ada",
		Category: "Guides",
		ReadTime: 7,
		ImageURL: "https://cdn.example.com/p1.png",
	}
	rcpt := models.Recipient{Email: "a@x.com", Name: "Grace"}

	first, err := r.Render(item, rcpt)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(item, rcpt)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first != second {
		t.Fatal("rendering twice produced different output")
	}
}

func TestRenderContent(t *testing.T) {
	r := newRenderer(t)
	msg, err := r.Render(models.ContentItem{
		ID:       "p1",
		Slug:     "guide-2025",
		Title:    "Guide 2025",
		Excerpt:  "Short summary",
		Author:   "Ada",
		ReadTime: 7,
	}, models.Recipient{Email: "a+b@x.com", Name: "Grace"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if msg.Subject != "New post: Guide 2025" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"Hi Grace,",
		"Guide 2025",
		"Short summary",
		"By Ada",
		"7 min read",
		"https://blog.example.com/blog/guide-2025",
		"https://blog.example.com/unsubscribe?email=a%2Bb%40x.com&amp;token=tok-a%2Bb%40x.com",
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderDefaultsForMissingFields(t *testing.T) {
	r := newRenderer(t)
	msg, err := r.Render(models.ContentItem{ID: "p1", Title: "Guide 2025"}, models.Recipient{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.HTML, "Hi there,") {
		t.Error("expected generic greeting")
	}
	if !strings.Contains(msg.HTML, "The editorial team") {
		t.Error("expected default author")
	}
	if strings.Contains(msg.HTML, "<img") {
		t.Error("image tag rendered without an image")
	}
	if strings.Contains(msg.HTML, "min read") {
		t.Error("read time rendered without a value")
	}
}

func TestRenderSanitizesExcerpt(t *testing.T) {
	r := newRenderer(t)
	msg, err := r.Render(models.ContentItem{
		ID:      "p1",
		Title:   "Guide",
		Excerpt: `<p onclick="x()">Hello</p><script>alert(1)</script>`,
	}, models.Recipient{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") || strings.Contains(msg.HTML, "onclick") {
		t.Fatalf("unsafe markup survived: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "<p>Hello</p>") {
		t.Fatal("safe markup was dropped")
	}
}

func TestRenderEscapesTitle(t *testing.T) {
	r := newRenderer(t)
	msg, err := r.Render(models.ContentItem{ID: "p1", Title: "<b>Bold</b>"}, models.Recipient{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.HTML, "<b>Bold</b>") {
		t.Fatal("title was not escaped")
	}
}

func TestRenderRejectsInvalidInput(t *testing.T) {
	r := newRenderer(t)
	if _, err := r.Render(models.ContentItem{ID: "p1", Title: "t"}, models.Recipient{}); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("err = %v, want ErrInvalidRecipient", err)
	}
	if _, err := r.Render(models.ContentItem{ID: "p1"}, models.Recipient{Email: "a@x.com"}); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("err = %v, want ErrInvalidContent", err)
	}
}
