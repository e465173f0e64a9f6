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

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string

	// ExpectedStatusCodes lists status codes treated as success.
	// Empty means any 2xx.
	ExpectedStatusCodes []int
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.URL, "https://") && !strings.HasPrefix(c.URL, "http://") {
		return fmt.Errorf("url must be http or https")
	}
	switch c.Method {
	case "", http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("unsupported method %q", c.Method)
	}
	return nil
}

// WebhookProvider delivers alerts as a JSON envelope to an arbitrary
// HTTP endpoint.
type WebhookProvider struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookProvider creates a new generic webhook provider.
func NewWebhookProvider(config WebhookConfig) (*WebhookProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}

	return &WebhookProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// webhookEnvelope is the JSON body sent to the endpoint.
type webhookEnvelope struct {
	Event     string        `json:"event"`
	Alert     *models.Alert `json:"alert"`
	Timestamp time.Time     `json:"timestamp"`
}

// Send delivers the alert envelope. recipient overrides the configured
// URL when non-empty.
func (w *WebhookProvider) Send(ctx context.Context, alert *models.Alert, recipient string) error {
	url := w.config.URL
	if strings.HasPrefix(recipient, "https://") || strings.HasPrefix(recipient, "http://") {
		url = recipient
	}

	envelope := webhookEnvelope{
		Event:     "alert.triggered",
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	}
	jsonData, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.config.Method, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if !w.accepted(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (w *WebhookProvider) accepted(status int) bool {
	if len(w.config.ExpectedStatusCodes) == 0 {
		return status >= 200 && status < 300
	}
	for _, code := range w.config.ExpectedStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}

// HealthCheck reports whether the provider is configured.
func (w *WebhookProvider) HealthCheck(ctx context.Context) bool {
	return w.config.Validate() == nil
}
