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

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsProvider sends alerts to Microsoft Teams via webhook.
type TeamsProvider struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsProvider creates a new Teams provider.
func NewTeamsProvider(config TeamsConfig) (*TeamsProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}

	return &TeamsProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "teams".
func (t *TeamsProvider) Name() string {
	return "teams"
}

// Send posts the alert to the webhook. recipient overrides the configured
// webhook URL when non-empty.
func (t *TeamsProvider) Send(ctx context.Context, alert *models.Alert, recipient string) error {
	url := t.config.WebhookURL
	if strings.HasPrefix(recipient, "https://") {
		url = recipient
	}

	payload := t.buildPayload(alert)
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("teams API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// HealthCheck reports whether the provider is configured.
func (t *TeamsProvider) HealthCheck(ctx context.Context) bool {
	return t.config.Validate() == nil
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// teamsAttachment represents an attachment in the Teams message.
type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

// adaptiveCard represents a Microsoft Adaptive Card.
type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

// Adaptive Card element types
type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

// buildPayload builds the Teams Adaptive Card message payload.
func (t *TeamsProvider) buildPayload(alert *models.Alert) teamsMessage {
	timestamp := alert.TriggeredAt.Format("2006-01-02 15:04:05 MST")
	emoji := severityEmoji(alert.Severity)
	style := teamsSeverityStyle(alert.Severity)

	body := []any{
		container{
			Type:  "Container",
			Style: style,
			Items: []any{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s AlertFlow: %s", emoji, alert.Title),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
		factSet{
			Type: "FactSet",
			Facts: []fact{
				{Title: "Severity", Value: fmt.Sprintf("%s %s", emoji, strings.ToUpper(string(alert.Severity)))},
				{Title: "Category", Value: string(alert.Category)},
				{Title: "Time", Value: timestamp},
			},
		},
		textBlock{
			Type: "TextBlock",
			Text: fmt.Sprintf("**Message:** %s", truncate(alert.Message, 500)),
			Wrap: true,
		},
	}

	if alert.ML != nil {
		body = append(body, factSet{
			Type: "FactSet",
			Facts: []fact{
				{Title: "Risk Score", Value: fmt.Sprintf("%.2f", alert.ML.RiskScore)},
				{Title: "Confidence", Value: fmt.Sprintf("%.2f", alert.ML.Confidence)},
				{Title: "Threat", Value: alert.ML.ThreatType},
			},
		})
	}

	if alert.Source != "" {
		body = append(body, textBlock{
			Type:  "TextBlock",
			Text:  fmt.Sprintf("_Source: %s_", alert.Source),
			Wrap:  true,
			Color: "light",
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSeverityStyle returns an Adaptive Card container style for the severity level.
func teamsSeverityStyle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "attention" // red
	case models.SeverityHigh:
		return "warning" // orange/yellow
	case models.SeverityMedium:
		return "accent" // blue
	case models.SeverityLow:
		return "good" // green
	default:
		return "default"
	}
}
