package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("message has no recipients")

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

// Transport delivers a single message. Implementations must honour ctx
// cancellation and deadlines.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
