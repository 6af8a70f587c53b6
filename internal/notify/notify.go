// Package notify delivers downstream alerts when a message resolves to
// the Interested category. All notifiers are fail-open: delivery errors
// are logged by the caller and never affect the persisted record.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nhle/onebox/internal/model"
)

// Notifier receives a record whose category resolution landed on
// Interested.
type Notifier interface {
	Name() string
	NotifyInterested(ctx context.Context, msg *model.Message) error
}

// postJSON is the shared HTTP delivery used by both notifier kinds.
func postJSON(
	ctx context.Context,
	client *http.Client,
	url string,
	payload interface{},
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// ChatNotifier posts a short human-readable alert to a chat webhook
// (Slack-compatible payload).
type ChatNotifier struct {
	url    string
	client *http.Client
}

// NewChatNotifier creates a chat notifier for the given webhook URL.
func NewChatNotifier(url string) *ChatNotifier {
	return &ChatNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *ChatNotifier) Name() string { return "chat" }

func (n *ChatNotifier) NotifyInterested(
	ctx context.Context,
	msg *model.Message,
) error {
	text := fmt.Sprintf(
		"New interested lead in %s: %q from %s",
		msg.Account, msg.Subject, msg.From,
	)
	return postJSON(ctx, n.client, n.url, map[string]string{"text": text})
}

// WebhookNotifier posts the full message record to a generic webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a generic webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) NotifyInterested(
	ctx context.Context,
	msg *model.Message,
) error {
	payload := map[string]interface{}{
		"event":   "message.interested",
		"message": msg,
	}
	return postJSON(ctx, n.client, n.url, payload)
}
