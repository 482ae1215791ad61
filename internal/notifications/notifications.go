package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Severities understood by the notifiers.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// NotificationService delivers a job-scoped alert. subject identifies the
// job the alert is about.
type NotificationService interface {
	SendAlert(ctx context.Context, subject string, severity string, message string) error
}

// ConsoleNotifier logs alerts instead of delivering them.
type ConsoleNotifier struct {
	Log *zap.Logger
}

func (n *ConsoleNotifier) SendAlert(_ context.Context, subject, severity, message string) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("alert", zap.String("subject", subject), zap.String("severity", severity), zap.String("message", message))
	return nil
}

// SlackNotifier posts alerts to an incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	client     *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// WithTimeout bounds each webhook call.
func (n *SlackNotifier) WithTimeout(d time.Duration) *SlackNotifier {
	if d > 0 {
		n.client.Timeout = d
	}
	return n
}

func (n *SlackNotifier) SendAlert(ctx context.Context, subject string, severity string, message string) error {
	body, err := json.Marshal(slackPayload{
		Text: "Export job " + subject,
		Attachments: []slackAttachment{{
			Color: color(severity),
			Title: fmt.Sprintf("[%s] Alert", severity),
			Text:  message,
		}},
	})
	if err != nil {
		return fmt.Errorf("slack: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api returned status: %d", resp.StatusCode)
	}
	return nil
}

func color(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#ff0000"
	case SeverityWarning:
		return "#ffa500"
	default:
		return "#36a64f"
	}
}
