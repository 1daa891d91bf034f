// Package slack mirrors alert summaries to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

const (
	maxTextLen  = 2900
	httpTimeout = 10 * time.Second
)

// Notifier posts alert summaries to a Slack webhook. It implements
// notify.Sink.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name identifies the sink in logs and metrics.
func (n *Notifier) Name() string { return "slack" }

// Send posts one alert to the configured webhook.
func (n *Notifier) Send(ctx context.Context, a *alert.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *alert.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			fieldsBlock(a),
			{"type": "divider"},
			textBlock(a),
			contextBlock(a),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": transport.Truncate(fmt.Sprintf("\U0001f7e1 Duplicate message: %s", a.TaskLabel), 150),
		},
	}
}

func fieldsBlock(a *alert.Alert) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Sender:* %s", a.SenderLabel())},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Conversation:* `%s`", a.ConversationID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duplicate:* `%s`", a.DuplicateMessageID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Original:* `%s`", a.OriginalMessageID)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func textBlock(a *alert.Alert) map[string]any {
	text := transport.Truncate(a.Text, maxTextLen)
	if text == "" {
		text = "_empty_"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Message*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("dupwatch • alert %d • reply with /reply %d <text> • %s",
					a.ID, a.ID, a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}
