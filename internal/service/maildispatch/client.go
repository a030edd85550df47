package maildispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
)

const (
	CodeRetryAfter = "retry-after" // provider throttled, message has to be retried later
	CodeRejected   = "rejected"    // provider refused the message, retrying won't help
	CodeUnknown    = "unknown"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultRetryAfter     = 60 * time.Second
)

type DeliveryError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func newDeliveryError(code string, retryAfter time.Duration, err error) *DeliveryError {
	return &DeliveryError{Code: code, RetryAfter: retryAfter, Err: err}
}

// WebhookClient hands messages to a mail provider over HTTP: message is POSTed as json
type WebhookClient struct {
	URL string

	client *http.Client
	logger logger.Logger
}

func NewWebhookClient(url string, l logger.Logger) *WebhookClient {
	return &WebhookClient{
		URL:    url,
		client: &http.Client{},
		logger: l,
	}
}

func (c *WebhookClient) Deliver(ctx context.Context, msg mailer.Message) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return newDeliveryError(CodeRejected, 0, fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return newDeliveryError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return newDeliveryError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("Mail delivered", "to", msg.To, "template", msg.Template)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("Mail provider throttled", "retry_after", retryAfter)
		return newDeliveryError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %s", retryAfter))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return newDeliveryError(CodeRejected, 0, fmt.Errorf("provider rejected message with status %d", resp.StatusCode))
	default:
		return newDeliveryError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

// Retry-After in seconds, default is used if header is missing or malformed
func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
