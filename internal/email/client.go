// Package email delivers digest batches over SMTP.
package email

import (
	"context"
	"fmt"
	"strings"

	mail "gopkg.in/mail.v2"

	"deskwire/internal/digest"
)

// Client sends digest emails through an SMTP relay.
type Client struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewClient configures the SMTP sender.
func NewClient(host string, port int, username, password, from string) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// SendDigest renders and sends one user's digest batch.
func (c *Client) SendDigest(_ context.Context, batch digest.Batch) error {
	message := mail.NewMessage()
	message.SetHeader("From", c.from)
	message.SetHeader("To", batch.Email)
	message.SetHeader("Subject", fmt.Sprintf("Helpdesk digest: %d notification(s)", len(batch.Notifications)))
	message.SetBody("text/plain", renderBody(batch))

	dialer := mail.NewDialer(c.host, c.port, c.username, c.password)
	if err := dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}
	return nil
}

func renderBody(batch digest.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d notification(s):\n\n", len(batch.Notifications))
	for _, n := range batch.Notifications {
		fmt.Fprintf(&b, "- [%s] %s: %s", n.Priority, n.Title, n.Message)
		if ref := n.Ticket(); ref != nil {
			fmt.Fprintf(&b, " (%s)", ref.Code)
		}
		b.WriteString("\n")
	}
	return b.String()
}
