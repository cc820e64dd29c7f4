// Package mailer is the boundary to the transactional email provider.
// Template rendering happens upstream of this package; Send receives a
// finished subject and body.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sender delivers one email. Implementations must honor the context timeout.
type Sender interface {
	Send(ctx context.Context, to, subject, body, category string) error
}

// HTTPSender posts messages to an HTTP email provider.
type HTTPSender struct {
	rc   *resty.Client
	from string
}

// NewHTTPSender builds a sender for the provider at endpoint.
func NewHTTPSender(endpoint, apiKey, from string, timeout time.Duration) *HTTPSender {
	rc := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &HTTPSender{rc: rc, from: from}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, to, subject, body, category string) error {
	resp, err := s.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from":     s.from,
			"to":       to,
			"subject":  subject,
			"body":     body,
			"category": category,
		}).
		Post("/v1/send")
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email provider returned %d", resp.StatusCode())
	}
	return nil
}

// Noop discards all mail. Used when no provider is configured.
type Noop struct{}

// Send implements Sender.
func (Noop) Send(context.Context, string, string, string, string) error { return nil }
