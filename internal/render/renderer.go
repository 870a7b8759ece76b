// Package render builds the per-recipient email for a published content item.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"postbell/internal/models"
)

// SubjectPrefix precedes the content title in every notification subject.
const SubjectPrefix = "New post: "

var (
	ErrInvalidRecipient = errors.New("recipient has no address")
	ErrInvalidContent   = errors.New("content item is missing id or title")
)

// TokenEncoder produces the unsubscribe token for an address.
type TokenEncoder interface {
	Encode(address string) string
}

// Message is a rendered email ready for the transport.
type Message struct {
	Subject string
	HTML    string
}

type Renderer struct {
	siteURL string
	tokens  TokenEncoder
	tmpl    *template.Template
	policy  *bluemonday.Policy
}

func New(siteURL string, tokens TokenEncoder) (*Renderer, error) {
	tmpl, err := template.New("post").Parse(postTemplate)
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}
	return &Renderer{
		siteURL: strings.TrimRight(siteURL, "/"),
		tokens:  tokens,
		tmpl:    tmpl,
		policy:  bluemonday.UGCPolicy(),
	}, nil
}

type postView struct {
	Greeting       string
	Title          string
	Excerpt        template.HTML
	Author         string
	Category       string
	ReadTime       int
	ImageURL       string
	PostURL        string
	UnsubscribeURL string
}

// Render is a pure function of its inputs so a retried message is byte
// identical to the first attempt.
func (r *Renderer) Render(item models.ContentItem, rcpt models.Recipient) (Message, error) {
	if strings.TrimSpace(rcpt.Email) == "" {
		return Message{}, ErrInvalidRecipient
	}
	if item.ID == "" || strings.TrimSpace(item.Title) == "" {
		return Message{}, ErrInvalidContent
	}

	view := postView{
		Greeting:       "Hi there,",
		Title:          item.Title,
		Excerpt:        template.HTML(r.policy.Sanitize(item.Excerpt)),
		Author:         item.Author,
		Category:       item.Category,
		ReadTime:       item.ReadTime,
		ImageURL:       item.ImageURL,
		PostURL:        r.siteURL + item.Path(),
		UnsubscribeURL: r.UnsubscribeURL(rcpt.Email),
	}
	if name := strings.TrimSpace(rcpt.Name); name != "" {
		view.Greeting = "Hi " + name + ","
	}
	if view.Author == "" {
		view.Author = "The editorial team"
	}

	var body bytes.Buffer
	if err := r.tmpl.Execute(&body, view); err != nil {
		return Message{}, fmt.Errorf("template execution error: %w", err)
	}

	return Message{
		Subject: SubjectPrefix + item.Title,
		HTML:    body.String(),
	}, nil
}

// UnsubscribeURL is the one-click link embedded in every notification.
func (r *Renderer) UnsubscribeURL(address string) string {
	q := url.Values{}
	q.Set("email", address)
	q.Set("token", r.tokens.Encode(address))
	return r.siteURL + "/unsubscribe?" + q.Encode()
}

const postTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<p>{{.Greeting}}</p>
<p>A new post was just published{{if .Category}} in <strong>{{.Category}}</strong>{{end}}.</p>
{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Title}}" style="max-width: 100%;">{{end}}
<h1>{{.Title}}</h1>
<p style="color: #555;">By {{.Author}}{{if .ReadTime}} &middot; {{.ReadTime}} min read{{end}}</p>
{{if .Excerpt}}<div>{{.Excerpt}}</div>{{end}}
<p><a href="{{.PostURL}}" style="display: inline-block; padding: 10px 16px; background: #111; color: #fff; text-decoration: none;">Read the full post</a></p>
<hr>
<p style="font-size: 12px; color: #888;">You are receiving this because you subscribed to blog updates.
<a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>
</body>
</html>
`
