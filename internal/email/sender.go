package email

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"
)

// Sender delivers messages over SMTP.
type Sender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	// Retries bounds extra attempts for transient SMTP errors within one Send.
	Retries int

	dial func(m *gomail.Message) error
}

func (s *Sender) compose(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/html", msg.HTML)
	return m
}

func (s *Sender) dialAndSend(m *gomail.Message) error {
	if s.dial != nil {
		return s.dial(m)
	}
	d := gomail.NewDialer(s.Host, s.Port, s.User, s.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send error: %w", err)
	}
	return nil
}

// Send composes msg and hands it to the SMTP server, retrying transient
// failures with exponential backoff until ctx expires.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	m := s.compose(msg)

	operation := func() error {
		done := make(chan error, 1)
		go func() { done <- s.dialAndSend(m) }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	var policy backoff.BackOff = b
	if s.Retries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(s.Retries))
	}
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
