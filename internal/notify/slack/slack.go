// Package slack sends emergency escalations to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

const (
	maxAdvisoryLen = 3000
	httpTimeout    = 10 * time.Second
)

// Notifier posts escalations to a Slack webhook. It implements
// triage.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

var _ triage.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send posts an escalation to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, e *triage.Escalation) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(e))
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

func buildMessage(e *triage.Escalation) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Emergency triage (%s): %s", e.Level, e.Reason),
		"blocks": []map[string]any{
			headerBlock(e),
			fieldsBlock(e),
			{"type": "divider"},
			advisoryBlock(e),
			contextBlock(e),
		},
	}
}

func headerBlock(e *triage.Escalation) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Emergency triage: %s", levelEmoji(e.Level), e.Level),
		},
	}
}

func fieldsBlock(e *triage.Escalation) map[string]any {
	entry := e.EntryKey
	if entry == "" {
		entry = "-"
	}
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Level:* %s", e.Level)),
		mrkdwn(fmt.Sprintf("*Source:* %s", e.Source)),
		mrkdwn(fmt.Sprintf("*Reason:* %s", e.Reason)),
		mrkdwn(fmt.Sprintf("*Urgency:* %d/5", e.Urgency)),
		mrkdwn(fmt.Sprintf("*Entry:* %s", entry)),
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func advisoryBlock(e *triage.Escalation) map[string]any {
	text := truncate(e.Advisory, maxAdvisoryLen)
	if text == "" {
		text = "_No advisory text._"
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn(fmt.Sprintf("*Advisory shown to the patient*\n\n%s", text)),
	}
}

func contextBlock(e *triage.Escalation) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn(fmt.Sprintf("medtriage • session %s • escalation %s • %s",
				e.SessionID, e.ID, e.At.UTC().Format("2006-01-02 15:04 UTC"))),
		},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func levelEmoji(level triage.EmergencyLevel) string {
	switch level {
	case triage.LevelCritical:
		return "\U0001f198" // SOS
	case triage.LevelHigh:
		return "\U0001f534" // red circle
	default:
		return "\U0001f7e0" // orange circle
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
