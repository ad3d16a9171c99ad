package email

import "context"

// Envelope is one plain-text email. An empty From uses the sender's default
// address. Tags are attached for delivery reporting.
type Envelope struct {
	To      string
	From    string
	Subject string
	Body    string
	Tags    map[string]string
}

// Sender delivers envelopes. SESClient is the production implementation.
type Sender interface {
	Deliver(ctx context.Context, env Envelope) error
}
