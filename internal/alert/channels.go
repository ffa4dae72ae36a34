package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// Channel delivers one violation notification to one destination. Send must
// honour ctx cancellation; delivery is best-effort and never retried.
type Channel interface {
	Name() string
	Send(ctx context.Context, v models.Violation) error
}

// WebhookChannel POSTs the violation as JSON to a configured endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a webhook channel for the given endpoint.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, v models.Violation) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode violation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// SlackChannel posts a formatted text message to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel builds a Slack channel for the given incoming-webhook URL.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, v models.Violation) error {
	payload := map[string]string{"text": formatViolation(v)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack returned %s", resp.Status)
	}
	return nil
}

// EmailChannel sends a plain-text notification over SMTP.
type EmailChannel struct {
	addr string
	from string
	to   []string
	auth smtp.Auth
}

// NewEmailChannel builds an email channel. auth may be nil for open relays
// such as a local test server.
func NewEmailChannel(addr, from string, to []string, auth smtp.Auth) *EmailChannel {
	return &EmailChannel{addr: addr, from: from, to: to, auth: auth}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, v models.Violation) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", c.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s violation on %s/%s\r\n", v.Severity, v.Rule, v.Provider, v.Model)
	fmt.Fprintf(&msg, "\r\n%s\r\n", formatViolation(v))

	// net/smtp has no context plumbing, so the dial honours ctx and the ctx
	// deadline is pushed down as a connection deadline; a hung server fails
	// the attempt instead of pinning the delivery goroutine.
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("set smtp deadline: %w", err)
		}
	}

	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		host = c.addr
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if c.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(c.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(c.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range c.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}
	return client.Quit()
}

func formatViolation(v models.Violation) string {
	return fmt.Sprintf(
		"%s | %s/%s | value %.2fms (%.1f sigma) | mean %.2fms, limits [%.2f, %.2f] | observed %s",
		v.Message, v.Provider, v.Model,
		v.TriggeringValue, v.DeviationSigma,
		v.Mean, v.LCL, v.UCL,
		v.ObservedAt.UTC().Format(time.RFC3339),
	)
}
