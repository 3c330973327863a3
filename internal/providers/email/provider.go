package email

import (
	"context"
	"errors"
)

// Message is a single outbound email. Text is optional; when set the message
// is sent as multipart/alternative.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipients = errors.New("email_no_recipients")

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
