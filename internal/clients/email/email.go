package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"sync"
)

// Client is an interface for sending emails.
type Client interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPClient is a client for sending emails using SMTP.
type SMTPClient struct {
	host string
	addr string
	auth smtp.Auth
	from string
}

// NewClient creates a new SMTP client.
func NewClient(host string, port int, username, password, from string) Client {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPClient{
		host: host,
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: auth,
		from: from,
	}
}

// Send delivers an HTML email to a single recipient. The dial and the SMTP
// exchange are bounded by the deadline of ctx.
func (c *SMTPClient) Send(ctx context.Context, to, subject, htmlBody string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := client.Mail(c.from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	if _, err := w.Write(BuildMessage(c.from, to, subject, htmlBody)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return client.Quit()
}

// BuildMessage renders the headers and body of an HTML email.
func BuildMessage(from, to, subject, htmlBody string) []byte {
	headers := map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": `text/html; charset="UTF-8"`,
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// SentEmail records a call to MockClient.Send.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	SendFunc func(to, subject, body string) error

	mu   sync.Mutex
	sent []SentEmail
}

// NewMockClient returns a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Send is the mock implementation of the Send method.
func (m *MockClient) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentEmail{To: to, Subject: subject, Body: body})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(to, subject, body)
	}
	return nil
}

// Sent returns the emails sent so far.
func (m *MockClient) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.sent))
	copy(out, m.sent)
	return out
}
