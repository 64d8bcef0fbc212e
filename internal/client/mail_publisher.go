// Package client holds thin adapters for external collaborators.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// MailPublisher hands rendered messages to the platform mail service over
// NATS request/reply.
type MailPublisher struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	log     zerolog.Logger
}

// mailRequest is the JSON schema the mail service accepts.
type mailRequest struct {
	To              string `json:"to"`
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	FromDisplayName string `json:"from_display_name,omitempty"`
}

// mailReply is the mail service's acknowledgement.
type mailReply struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// NewMailPublisher creates a publisher backed by the given NATS connection.
func NewMailPublisher(conn *nats.Conn, subject string, timeout time.Duration, log zerolog.Logger) *MailPublisher {
	if subject == "" {
		subject = "notifications.mail.send"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MailPublisher{conn: conn, subject: subject, timeout: timeout, log: log}
}

// Send delivers one message and returns the provider message id on success.
// Errors are returned, not swallowed; the orchestrator decides how a failed
// send is logged.
func (p *MailPublisher) Send(ctx context.Context, to, subject, body, fromDisplayName string) (string, error) {
	if p.conn == nil {
		return "", fmt.Errorf("mail: no NATS connection")
	}

	data, err := json.Marshal(&mailRequest{
		To:              to,
		Subject:         subject,
		Body:            body,
		FromDisplayName: fromDisplayName,
	})
	if err != nil {
		return "", fmt.Errorf("mail: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.conn.RequestWithContext(ctx, p.subject, data)
	if err != nil {
		return "", fmt.Errorf("mail: request: %w", err)
	}

	var reply mailReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("mail: unmarshal reply: %w", err)
	}
	if !reply.Success {
		return "", fmt.Errorf("mail: provider rejected message: %s", reply.Error)
	}

	p.log.Debug().
		Str("to", to).
		Str("provider_message_id", reply.ProviderMessageID).
		Msg("mail: message accepted")

	return reply.ProviderMessageID, nil
}
