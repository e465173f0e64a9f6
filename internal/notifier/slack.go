package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackProvider sends alerts to Slack via incoming webhook.
type SlackProvider struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackProvider creates a new Slack provider.
func NewSlackProvider(config SlackConfig) (*SlackProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackProvider) Name() string {
	return "slack"
}

// Send posts the alert to the webhook. recipient overrides the configured
// webhook URL when non-empty.
func (s *SlackProvider) Send(ctx context.Context, alert *models.Alert, recipient string) error {
	url := s.config.WebhookURL
	if strings.HasPrefix(recipient, "https://") {
		url = recipient
	}

	payload := s.buildPayload(alert)
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// HealthCheck reports whether the provider is configured.
func (s *SlackProvider) HealthCheck(ctx context.Context) bool {
	return s.config.Validate() == nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Slack Block Kit message payload.
func (s *SlackProvider) buildPayload(alert *models.Alert) slackMessage {
	emoji := severityEmoji(alert.Severity)
	timestamp := alert.TriggeredAt.Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s AlertFlow: %s", emoji, alert.Title),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(string(alert.Severity))),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Category:*\n%s", alert.Category),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", timestamp),
				},
			},
		},
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Message:*\n%s", alert.Message),
			},
		},
	}

	if alert.ML != nil {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Risk Score:*\n%.2f", alert.ML.RiskScore),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Threat:*\n%s", alert.ML.ThreatType),
				},
			},
		})
	}

	var contextParts []string
	if alert.Source != "" {
		contextParts = append(contextParts, fmt.Sprintf("Source: %s", alert.Source))
	}
	if alert.Endpoint != "" {
		contextParts = append(contextParts, fmt.Sprintf("Endpoint: `%s`", alert.Endpoint))
	}
	if alert.IPAddress != "" {
		contextParts = append(contextParts, fmt.Sprintf("IP: `%s`", alert.IPAddress))
	}
	if len(contextParts) > 0 {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: strings.Join(contextParts, " | "),
				},
			},
		})
	}

	return slackMessage{Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "\u26AA" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
