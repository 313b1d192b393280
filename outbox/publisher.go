package outbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Publisher delivers one outbox message to the outside world.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// WebhookPublisher POSTs each message as JSON to a fixed URL.
type WebhookPublisher struct {
	url    string
	client *http.Client
}

// NewWebhookPublisher creates a publisher for url with a 5s request timeout.
func NewWebhookPublisher(url string) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Publish sends the message payload; any non-2xx response is an error.
func (p *WebhookPublisher) Publish(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("outbox: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "escrowflow-outbox/1.0")
	req.Header.Set("X-Outbox-Id", msg.ID)
	req.Header.Set("X-Outbox-Topic", msg.Topic)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("outbox: send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("outbox: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogPublisher writes each message to a logger. Used when no webhook is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that logs at Info.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish never fails.
func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "outbox event",
		slog.String("id", msg.ID),
		slog.String("topic", msg.Topic),
		slog.String("payload", string(msg.Payload)),
	)
	return nil
}
